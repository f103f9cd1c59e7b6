package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "github.com/Spaxterr/lynxlib/pkg/logx"
)

func openTest(t *testing.T, driver string, limit int) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	st, err := Open(Config{Driver: driver, Path: path, HistoryLimit: limit, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s) error: %v", driver, err)
	}
	return st, path
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver should fail")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path should fail")
	}
}

func TestDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, path := openTest(t, driver, 0)

			at := time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				r := RunRecord{At: at.Add(time.Duration(i) * time.Second), TaskID: fmt.Sprintf("t%d", i), Outcome: OutcomeExecuted, Due: int64(i), Tick: int64(i), TookUS: 12}
				if i == 3 {
					r.Outcome, r.Error, r.Repeating = OutcomeFailed, "boom", true
				}
				if err := st.AppendRun(ctx, r); err != nil {
					t.Fatalf("AppendRun error: %v", err)
				}
			}

			got, err := st.RecentRuns(ctx, 2)
			if err != nil {
				t.Fatalf("RecentRuns error: %v", err)
			}
			if len(got) != 2 || got[0].TaskID != "t4" || got[1].TaskID != "t3" {
				t.Fatalf("RecentRuns(2) = %+v, want t4, t3", got)
			}
			if got[1].Outcome != OutcomeFailed || got[1].Error != "boom" || !got[1].Repeating {
				t.Fatalf("failed record round-trip = %+v", got[1])
			}
			if !got[0].At.Equal(at.Add(4 * time.Second)) {
				t.Fatalf("At = %s, want %s", got[0].At, at.Add(4*time.Second))
			}

			// Records survive a reopen.
			if err := st.Close(); err != nil {
				t.Fatalf("Close error: %v", err)
			}
			re, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("reopen error: %v", err)
			}
			defer re.Close()
			all, err := re.RecentRuns(ctx, 0)
			if err != nil {
				t.Fatalf("RecentRuns after reopen: %v", err)
			}
			if len(all) != 5 || all[4].TaskID != "t0" {
				t.Fatalf("after reopen got %d records (last %+v)", len(all), all)
			}
		})
	}
}

func TestHistoryLimit(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, _ := openTest(t, driver, 10)
			defer st.Close()
			for i := 0; i < 35; i++ {
				if err := st.AppendRun(ctx, RunRecord{TaskID: fmt.Sprintf("t%d", i), Outcome: OutcomeExecuted}); err != nil {
					t.Fatalf("AppendRun error: %v", err)
				}
			}
			got, err := st.RecentRuns(ctx, 100)
			if err != nil {
				t.Fatalf("RecentRuns error: %v", err)
			}
			if len(got) != 10 {
				t.Fatalf("kept %d records, want 10", len(got))
			}
			if got[0].TaskID != "t34" || got[9].TaskID != "t25" {
				t.Fatalf("window = %s..%s, want t34..t25", got[0].TaskID, got[9].TaskID)
			}
		})
	}
}

func TestClosedStore(t *testing.T) {
	t.Parallel()
	st, _ := openTest(t, "file", 0)
	if err := st.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := st.AppendRun(context.Background(), RunRecord{TaskID: "x"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("AppendRun after Close = %v, want ErrClosed", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("second Close = %v", err)
	}
}
