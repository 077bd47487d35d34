package crash

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getsentry/orbit/internal/testutil"
)

const dump = `goroutine 7 [running]:
github.com/getsentry/orbit/internal/crash.(*PanicReporter).Recover(0xc000120000)
	/src/orbit/internal/crash/panic.go:71 +0x8a
panic({0x6b1c20?, 0x7d3a10?})
	/usr/local/go/src/runtime/panic.go:914 +0x21f
github.com/acme/app/checkout.(*Cart).Total(...)
	/src/app/checkout/cart.go:42
main.main()
	/src/app/main.go:12 +0x1d

goroutine 1 [chan receive, 2 minutes]:
main.wait(0xc00001c0c0)
	/src/app/main.go:30 +0x45
created by main.start in goroutine 7
	/src/app/main.go:20 +0x6f
`

func TestFormat(t *testing.T) {
	raw, err := encMode.Marshal(Report{
		Timestamp: 1700000000000,
		Type:      "*errors.errorString",
		Message:   "cart is empty",
		Stack:     []byte(dump),
	})
	require.NoError(t, err)

	data, timestamp, err := Formatter{BinaryName: "app"}.Format(raw, true)
	require.NoError(t, err)
	require.Equal(t, int64(1700000000000), timestamp)

	want := ExceptionData{
		Foreground: true,
		Exceptions: []ExceptionUnit{
			{
				Type:       "*errors.errorString",
				Message:    "cart is empty",
				ThreadName: "goroutine 7",
				Frames: []Frame{
					{
						FrameIndex: 0,
						ModuleName: "github.com/acme/app/checkout",
						MethodName: "(*Cart).Total",
						FileName:   "/src/app/checkout/cart.go",
						LineNum:    42,
						BinaryName: "app",
					},
					{
						FrameIndex: 1,
						ModuleName: "main",
						MethodName: "main",
						FileName:   "/src/app/main.go",
						LineNum:    12,
						Offset:     "0x1d",
						BinaryName: "app",
					},
				},
			},
		},
		Threads: []Thread{
			{
				Name:  "goroutine 1",
				State: "chan receive, 2 minutes",
				Frames: []Frame{
					{
						FrameIndex: 0,
						ModuleName: "main",
						MethodName: "wait",
						FileName:   "/src/app/main.go",
						LineNum:    30,
						Offset:     "0x45",
						BinaryName: "app",
					},
					{
						FrameIndex: 1,
						ModuleName: "main",
						MethodName: "start",
						FileName:   "/src/app/main.go",
						LineNum:    20,
						Offset:     "0x6f",
						BinaryName: "app",
					},
				},
			},
		},
	}
	if diff := testutil.Diff(data, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestFormatRejectsGarbage(t *testing.T) {
	_, _, err := Formatter{}.Format([]byte("not cbor"), false)
	require.Error(t, err)
}
