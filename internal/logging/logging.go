package logging

import (
	"os"
	"path/filepath"
	"time"
)

const logStamp = "20060102T150405Z"

// LogFilePath names the log file of a run started at start, e.g.
// breaklogs/breakage_20260212T213836Z.log.
func LogFilePath(dir, app string, start time.Time) string {
	return filepath.Join(dir, app+"_"+start.UTC().Format(logStamp)+".log")
}

// OpenLogFile opens path for appending. A file already at path from an
// earlier run with the same timestamp is kept as path.old.
func OpenLogFile(path string) (*os.File, error) {
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".old"); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
}
