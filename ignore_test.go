package runison

import "testing"

func TestIgnoreByName(t *testing.T) {
	cfg := &Config{IgnoreName: []string{"*.tmp"}}
	ignored, err := Ignore(cfg, "/root/a.tmp", "a.tmp")
	if err != nil {
		t.Fatal(err)
	}
	if !ignored {
		t.Fatal("expected a.tmp to be ignored")
	}

	ignored, err = Ignore(cfg, "/root/a.txt", "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if ignored {
		t.Fatal("a.txt should not be ignored")
	}
}

func TestIgnoreByPath(t *testing.T) {
	cfg := &Config{IgnorePath: []string{"*/cache/*"}}
	ignored, err := Ignore(cfg, "/root/cache/x", "x")
	if err != nil {
		t.Fatal(err)
	}
	if !ignored {
		t.Fatal("expected /root/cache/x to be ignored")
	}
}

func TestIgnoreBuiltin(t *testing.T) {
	cfg := &Config{}
	ignored, err := Ignore(cfg, "/root/.runison-current", ".runison-current")
	if err != nil {
		t.Fatal(err)
	}
	if !ignored {
		t.Fatal("builtin snapshot files must always be ignored")
	}
}

func TestIgnoreBadPattern(t *testing.T) {
	cfg := &Config{IgnoreName: []string{"["}}
	if _, err := Ignore(cfg, "/root/a", "a"); err == nil {
		t.Fatal("expected error for malformed glob")
	}
}
