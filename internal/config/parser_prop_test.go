package config

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/prop"

	"github.com/doridoridoriand/conwatch/internal/notify"
)

type directiveCase struct {
	MaxListeners  int
	Level1        int
	Level2        int
	SuccessMs     int
	Failure1Ms    int
	WaitOnFailure bool
	Mode          notify.Mode
	MetricsListen string
	UIDisable     bool
}

func TestPropertyTargetParsing(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 25
	props := gopter.NewProperties(params)

	props.Property("URL lines are kept in file order", prop.ForAll(
		func(urls []string) bool {
			lines := make([]string, 0, len(urls)*2)
			for i, u := range urls {
				if i%2 == 0 {
					lines = append(lines, "# comment")
				}
				lines = append(lines, u)
			}
			path := writeTempConfig(t, strings.Join(lines, "\n"))
			cfg, err := ConwatchParser{}.LoadConfig(path, CLIOverrides{})
			if err != nil || len(cfg.Targets) != len(urls) {
				return false
			}
			for i, u := range urls {
				if cfg.Targets[i] != u {
					return false
				}
			}
			return true
		},
		genURLs(),
	))

	props.TestingRun(t)
}

func TestPropertyDirectiveParsing(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 25
	props := gopter.NewProperties(params)

	props.Property("conwatch directives map to MonitorOptions", prop.ForAll(
		func(dc directiveCase) bool {
			directive := fmt.Sprintf(
				"# conwatch: max_listeners=%d failure.level1=%d failure.level2=%d sleep.success=%dms sleep.failure1=%dms wait_on_failure=%t notify.mode=%s metrics.listen=%s ui.disable=%t\n",
				dc.MaxListeners,
				dc.Level1,
				dc.Level2,
				dc.SuccessMs,
				dc.Failure1Ms,
				dc.WaitOnFailure,
				dc.Mode,
				dc.MetricsListen,
				dc.UIDisable,
			)
			path := writeTempConfig(t, directive)
			cfg, err := ConwatchParser{}.LoadConfig(path, CLIOverrides{})
			if err != nil {
				return false
			}
			m := cfg.Monitor
			return m.MaxListeners == dc.MaxListeners &&
				m.FailureLevel1 == dc.Level1 &&
				m.FailureLevel2 == dc.Level2 &&
				m.SuccessSleep == time.Duration(dc.SuccessMs)*time.Millisecond &&
				m.FailureSleep1 == time.Duration(dc.Failure1Ms)*time.Millisecond &&
				m.WaitOnFailure == dc.WaitOnFailure &&
				m.NotificationMode == dc.Mode &&
				m.MetricsListen == dc.MetricsListen &&
				m.UIDisable == dc.UIDisable
		},
		genDirectiveCase(),
	))

	props.TestingRun(t)
}

func TestPropertyCommentHandling(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 25
	props := gopter.NewProperties(params)

	props.Property("comment-only files produce no targets", prop.ForAll(
		func(count int) bool {
			lines := make([]string, 0, count)
			for i := 0; i < count; i++ {
				lines = append(lines, "# comment")
			}
			path := writeTempConfig(t, strings.Join(lines, "\n"))
			cfg, err := ConwatchParser{}.LoadConfig(path, CLIOverrides{})
			if err != nil {
				return false
			}
			return len(cfg.Targets) == 0
		},
		gopter.Gen(func(genParams *gopter.GenParameters) *gopter.GenResult {
			count := genParams.Rng.Intn(10) + 1
			return gopter.NewGenResult(count, gopter.NoShrinker)
		}),
	))

	props.Property("lines with more than one field are rejected", prop.ForAll(
		func(a, b string) bool {
			path := writeTempConfig(t, a+" "+b+"\n")
			_, err := ConwatchParser{}.LoadConfig(path, CLIOverrides{})
			return err != nil
		},
		genToken(),
		genToken(),
	))

	props.TestingRun(t)
}

func TestPropertyCLIPriority(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 25
	props := gopter.NewProperties(params)

	props.Property("CLI overrides config values", prop.ForAll(
		func(maxListeners, timeoutMs int) bool {
			configText := fmt.Sprintf(
				"# conwatch: max_listeners=%d connect_timeout=%dms wait_on_failure=true ui.disable=false\n",
				maxListeners,
				timeoutMs,
			)
			path := writeTempConfig(t, configText)

			overrideMax := maxListeners + 1
			overrideTimeout := time.Duration(timeoutMs+1) * time.Millisecond
			overrideWait := false
			overrideNoUI := true
			overrides := CLIOverrides{
				MaxListeners:   &overrideMax,
				ConnectTimeout: &overrideTimeout,
				WaitOnFailure:  &overrideWait,
				UIDisable:      &overrideNoUI,
			}

			cfg, err := ConwatchParser{}.LoadConfig(path, overrides)
			if err != nil {
				return false
			}

			return cfg.Monitor.MaxListeners == overrideMax &&
				cfg.Monitor.ConnectTimeout == overrideTimeout &&
				cfg.Monitor.WaitOnFailure == overrideWait &&
				cfg.Monitor.UIDisable == overrideNoUI
		},
		gopter.Gen(func(genParams *gopter.GenParameters) *gopter.GenResult {
			return gopter.NewGenResult(genParams.Rng.Intn(50)+1, gopter.NoShrinker)
		}),
		gopter.Gen(func(genParams *gopter.GenParameters) *gopter.GenResult {
			return gopter.NewGenResult(genParams.Rng.Intn(2000)+1, gopter.NoShrinker)
		}),
	))

	props.TestingRun(t)
}

func genURLs() gopter.Gen {
	return gopter.Gen(func(genParams *gopter.GenParameters) *gopter.GenResult {
		count := genParams.Rng.Intn(8)
		urls := make([]string, count)
		schemes := []string{"http", "https", "icmp"}
		for i := range urls {
			urls[i] = fmt.Sprintf("%s://%s.example", schemes[genParams.Rng.Intn(len(schemes))], randomToken(genParams.Rng))
		}
		return gopter.NewGenResult(urls, gopter.NoShrinker)
	})
}

func genDirectiveCase() gopter.Gen {
	return gopter.Gen(func(genParams *gopter.GenParameters) *gopter.GenResult {
		modes := []notify.Mode{notify.ModeSerial, notify.ModeParallel, notify.ModeDedicated}
		level1 := genParams.Rng.Intn(10) + 1
		dc := directiveCase{
			MaxListeners:  genParams.Rng.Intn(100) + 1,
			Level1:        level1,
			Level2:        level1 + genParams.Rng.Intn(20),
			SuccessMs:     genParams.Rng.Intn(10000),
			Failure1Ms:    genParams.Rng.Intn(10000),
			WaitOnFailure: genParams.Rng.Intn(2) == 0,
			Mode:          modes[genParams.Rng.Intn(len(modes))],
			MetricsListen: fmt.Sprintf(":%d", genParams.Rng.Intn(60000)+1024),
			UIDisable:     genParams.Rng.Intn(2) == 0,
		}
		return gopter.NewGenResult(dc, gopter.NoShrinker)
	})
}

func genToken() gopter.Gen {
	return gopter.Gen(func(genParams *gopter.GenParameters) *gopter.GenResult {
		return gopter.NewGenResult(randomToken(genParams.Rng), gopter.NoShrinker)
	})
}

func randomToken(rng *rand.Rand) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	length := rng.Intn(8) + 1
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = letters[rng.Intn(len(letters))]
	}
	return string(buf)
}
