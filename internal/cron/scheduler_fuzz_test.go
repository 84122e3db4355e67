package cron

import (
	"testing"

	"github.com/robfig/cron/v3"
)

// FuzzScheduleExpr checks that arbitrary schedule expressions never
// panic the parser; invalid expressions must surface as plain errors.
func FuzzScheduleExpr(f *testing.F) {
	f.Add("* * * * *")
	f.Add("*/5 * * * *")
	f.Add("0 * * * *")
	f.Add("0 0 1 1 *")
	f.Add("61 * * * *")
	f.Add("0 25 * * *")
	f.Add("invalid")
	f.Add("")

	f.Fuzz(func(_ *testing.T, expr string) {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		_, _ = parser.Parse(expr)
	})
}
