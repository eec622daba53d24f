package engine

import (
	"errors"
	"os"
	"strings"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004
const CLOSED = 0x0005

var ErrDetectorClosed = errors.New("detector closed")

// ReadLinesReadFile 读取类别名文件，每行一个
func ReadLinesReadFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// 支持 Windows CRLF，去掉尾部的 '\r'
	raw := strings.Split(string(b), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// LoadNames 优先读取文件，否则使用内联列表
func LoadNames(file string, inline []string) ([]string, error) {
	if file != "" {
		return ReadLinesReadFile(file)
	}
	names := make([]string, len(inline))
	copy(names, inline)
	return names, nil
}
