// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestNewPrinter_BufferIsPlain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	if p.Styled() {
		t.Error("a bytes.Buffer is never a terminal")
	}
}

func TestPrinter_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.Title("Patch")
	p.Status(IconSuccess, "%d blocks", 3)
	p.Item("block %s", "osc")
	p.Muted("detail")
	p.Box("one", "two")

	want := strings.Join([]string{
		"Patch",
		"✓ 3 blocks",
		"  • block osc",
		"    detail",
		"  one",
		"  two",
		"",
	}, "\n")
	if got := buf.String(); got != want {
		t.Errorf("output =\n%q\nwant\n%q", got, want)
	}
	if strings.Contains(buf.String(), "\x1b[") {
		t.Error("plain output must not contain ANSI escapes")
	}
}

func TestPrinter_RenderStyled(t *testing.T) {
	p := &Printer{w: &bytes.Buffer{}, styled: true}
	if got := p.Render(Styles.Bold, "x"); !strings.Contains(got, "x") {
		t.Errorf("Render() = %q", got)
	}
	if got := NewPlainPrinter(nil).Render(Styles.Bold, "x"); got != "x" {
		t.Errorf("plain Render() = %q, want x", got)
	}
}

func TestIsTerminal_File(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if IsTerminal(f) {
		t.Error("a regular file is not a terminal")
	}
}
