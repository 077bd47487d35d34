package crash

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

var goroutineHeader = regexp.MustCompile(`^goroutine (\d+) \[([^\]]*)\]:$`)

type (
	ExceptionData struct {
		Exceptions []ExceptionUnit `json:"exceptions"`
		Threads    []Thread        `json:"threads"`
		Handled    bool            `json:"handled"`
		Foreground bool            `json:"foreground"`
	}

	ExceptionUnit struct {
		Type       string  `json:"type"`
		Message    string  `json:"message"`
		ThreadName string  `json:"thread_name"`
		Frames     []Frame `json:"frames"`
	}

	Thread struct {
		Name   string  `json:"name"`
		State  string  `json:"state,omitempty"`
		Frames []Frame `json:"frames"`
	}

	Frame struct {
		FrameIndex int    `json:"frame_index"`
		ModuleName string `json:"module_name,omitempty"`
		MethodName string `json:"method_name"`
		FileName   string `json:"file_name,omitempty"`
		LineNum    int    `json:"line_num,omitempty"`
		Offset     string `json:"offset,omitempty"`
		BinaryName string `json:"binary_name,omitempty"`
	}

	// Formatter turns a report into the exception payload.
	Formatter struct {
		// BinaryName is set on every frame.
		BinaryName string
	}
)

// Format decodes raw and returns the exception and the crash timestamp.
func (f Formatter) Format(raw []byte, foreground bool) (ExceptionData, int64, error) {
	var r Report
	err := decMode.Unmarshal(raw, &r)
	if err != nil {
		return ExceptionData{}, 0, err
	}
	threads := f.parseStack(r.Stack)
	data := ExceptionData{
		Handled:    false,
		Foreground: foreground,
		Threads:    []Thread{},
	}
	unit := ExceptionUnit{Type: r.Type, Message: r.Message, Frames: []Frame{}}
	if len(threads) > 0 {
		unit.ThreadName = threads[0].Name
		unit.Frames = afterPanic(threads[0].Frames)
		data.Threads = threads[1:]
	}
	data.Exceptions = []ExceptionUnit{unit}
	return data, r.Timestamp, nil
}

// afterPanic drops the frames of the panic machinery and the reporter,
// everything up to the call to panic.
func afterPanic(frames []Frame) []Frame {
	for i := len(frames) - 1; i >= 0; i-- {
		if isPanic(frames[i]) {
			return reindex(frames[i+1:])
		}
	}
	return frames
}

func isPanic(f Frame) bool {
	switch {
	case f.ModuleName == "" && f.MethodName == "panic":
		return true
	case f.ModuleName == "runtime" && f.MethodName == "gopanic":
		return true
	}
	return false
}

func reindex(frames []Frame) []Frame {
	out := make([]Frame, len(frames))
	for i, f := range frames {
		f.FrameIndex = i
		out[i] = f
	}
	return out
}

func (f Formatter) parseStack(stack []byte) []Thread {
	var threads []Thread
	var current *Thread
	var pending *Frame

	scanner := bufio.NewScanner(bytes.NewReader(stack))
	scanner.Buffer(make([]byte, 64<<10), maxStackSize)
	for scanner.Scan() {
		line := scanner.Text()
		if m := goroutineHeader.FindStringSubmatch(line); m != nil {
			threads = append(threads, Thread{Name: "goroutine " + m[1], State: m[2], Frames: []Frame{}})
			current = &threads[len(threads)-1]
			pending = nil
			continue
		}
		if current == nil || strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "\t") {
			if pending != nil {
				pending.FileName, pending.LineNum, pending.Offset = parseLocation(line)
				current.Frames = append(current.Frames, *pending)
				pending = nil
			}
			continue
		}
		module, method := splitSymbol(symbol(line))
		pending = &Frame{
			FrameIndex: len(current.Frames),
			ModuleName: module,
			MethodName: method,
			BinaryName: f.BinaryName,
		}
	}
	return threads
}

// symbol strips the arguments of a function line, and the origin of a
// "created by" line.
func symbol(line string) string {
	if strings.HasPrefix(line, "created by ") {
		line = strings.TrimPrefix(line, "created by ")
		if i := strings.Index(line, " in goroutine "); i >= 0 {
			line = line[:i]
		}
		return line
	}
	if strings.HasSuffix(line, ")") {
		if i := strings.LastIndex(line, "("); i > 0 {
			return line[:i]
		}
	}
	return line
}

// splitSymbol splits github.com/a/b.(*T).M into its package path and the
// rest.
func splitSymbol(s string) (string, string) {
	slash := strings.LastIndex(s, "/")
	dot := strings.Index(s[slash+1:], ".")
	if dot < 0 {
		return "", s
	}
	dot += slash + 1
	return s[:dot], s[dot+1:]
}

func parseLocation(line string) (string, int, string) {
	line = strings.TrimSpace(line)
	var offset string
	if i := strings.LastIndex(line, " +"); i >= 0 {
		offset = line[i+2:]
		line = line[:i]
	}
	i := strings.LastIndex(line, ":")
	if i < 0 {
		return line, 0, offset
	}
	n, err := strconv.Atoi(line[i+1:])
	if err != nil {
		return line, 0, offset
	}
	return line[:i], n, offset
}
