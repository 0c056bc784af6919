package logger

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestLevelFiles(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, "debug")
	test.That(t, err, test.ShouldBeNil)

	l.Info("hello %s", "info")
	l.Warning("careful %d", 2)
	l.Error("broken %v", "pipe")
	test.That(t, l.Close(), test.ShouldBeNil)

	info, err := os.ReadFile(filepath.Join(dir, InfoFile))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(info), test.ShouldContainSubstring, "hello info")
	test.That(t, string(info), test.ShouldNotContainSubstring, "careful")

	warning, err := os.ReadFile(filepath.Join(dir, WarningFile))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(warning), test.ShouldContainSubstring, "careful 2")

	errLog, err := os.ReadFile(filepath.Join(dir, ErrorFile))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(errLog), test.ShouldContainSubstring, "broken pipe")
}

func TestCleanLogs(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, "release")
	test.That(t, err, test.ShouldBeNil)
	defer l.Close()

	l.Warning("to be removed")
	test.That(t, l.CleanLogs(WarningFile), test.ShouldBeNil)

	data, err := os.ReadFile(filepath.Join(dir, WarningFile))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(data), test.ShouldEqual, 0)
}
