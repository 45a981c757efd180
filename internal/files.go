package internal

import (
	"io"
	"log"
	"os"
	"path/filepath"
)

// FileOpen is os.Open with panics in place of errors
func FileOpen(name string) *os.File {
	file, err := os.Open(name)
	if err != nil {
		log.Panic(err)
	}
	return file
}

// FileOpenIfExists is os.Open with panics in place of errors,
// except that it returns false if the file does not exist
func FileOpenIfExists(name string) (*os.File, bool) {
	file, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false
		}
		log.Panic(err)
	}
	return file, true
}

// FileCreate is os.Create with panics in place of errors
func FileCreate(name string) *os.File {
	file, err := os.Create(name)
	if err != nil {
		log.Panic(err)
	}
	return file
}

// Close is c.Close with panics in place of errors
func Close(c io.Closer) {
	if err := c.Close(); err != nil {
		log.Panic(err)
	}
}

// MkdirAll is os.MkdirAll with panics in place of errors
func MkdirAll(path string, perm os.FileMode) {
	if err := os.MkdirAll(path, perm); err != nil {
		log.Panic(err)
	}
}

// RemoveAll is os.RemoveAll with panics in place of errors
func RemoveAll(path string) {
	if err := os.RemoveAll(path); err != nil {
		log.Panic(err)
	}
}

// Write is w.Write with panics in place of errors
func Write(w io.Writer, p []byte) int {
	n, err := w.Write(p)
	if err != nil {
		log.Panic(err)
	}
	return n
}

// WriteString is io.WriteString with panics in place of errors
func WriteString(w io.Writer, s string) int {
	n, err := io.WriteString(w, s)
	if err != nil {
		log.Panic(err)
	}
	return n
}

// FullPathname returns the absolute path name for the given file name
func FullPathname(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	wd, err := os.Getwd()
	if err != nil {
		log.Panic(err)
	}
	return filepath.Join(wd, filename)
}
