package platform

import "runtime"

type Platform string

const (
	Android     Platform = "android"
	IOS         Platform = "ios"
	Flutter     Platform = "flutter"
	ReactNative Platform = "react_native"
	Go          Platform = "go"
)

// Host returns the platform the SDK is running on when the host app
// doesn't declare one.
func Host() Platform {
	switch runtime.GOOS {
	case "android":
		return Android
	case "ios":
		return IOS
	}
	return Go
}

func (p Platform) Valid() bool {
	switch p {
	case Android, IOS, Flutter, ReactNative, Go:
		return true
	}
	return false
}
