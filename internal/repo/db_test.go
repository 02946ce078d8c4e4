package repo

import "testing"

func TestOpenDialector(t *testing.T) {
	for _, driver := range []string{"", "postgres", "mysql", "sqlite"} {
		d, err := openDialector(driver, "dsn")
		if err != nil || d == nil {
			t.Fatalf("driver %q: unexpected error %v", driver, err)
		}
	}
	if _, err := openDialector("oracle", "dsn"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
