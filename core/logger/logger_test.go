package logger

import (
	"testing"

	coreconfig "github.com/scwee/autogift/core/config"
)

func TestComponentReusesPrebuiltLoggers(t *testing.T) {
	cfg := &coreconfig.Config{}
	cfg.Logging.Level = "error"
	if err := InitLogger(cfg); err != nil {
		t.Fatalf("InitLogger: %v", err)
	}

	if Component("db") != DB {
		t.Fatal("Component(db) must return the prebuilt DB logger")
	}
	if Component("db.migrate") != MIG {
		t.Fatal("Component(db.migrate) must return the prebuilt MIG logger")
	}
	if Component("engine") != ENG {
		t.Fatal("Component(engine) must return the prebuilt ENG logger")
	}
	if Component("ledger") != LED {
		t.Fatal("Component(ledger) must return the prebuilt LED logger")
	}
	if Component("somewhere.else") == nil {
		t.Fatal("unknown components still get a scoped logger")
	}
}
