package telemetry

import (
	"regexp"
	"strconv"
	"strings"
)

type rule struct {
	re    *regexp.Regexp
	apply func(m []string) Update
}

var timestampPrefix = regexp.MustCompile(`^\d{2}:\d{2}:\d{2} `)

var rules = []rule{
	{
		re: regexp.MustCompile(`^phase: (.+?)(?: \((\d{1,3})%\))?$`),
		apply: func(m []string) Update {
			u := Update{Phase: m[1], Progress: NoProgress}
			if m[2] != "" {
				u.Progress = atoi(m[2])
			}
			return u
		},
	},
	{
		re: regexp.MustCompile(`^retrieved (\d{1,18}) documents at offset (\d{1,18}) \(total (-?\d{1,18})\)$`),
		apply: func(m []string) Update {
			return PageEvent{Retrieved: atoi(m[1]), Offset: atoi(m[2]), Total: atoi(m[3])}.Update()
		},
	},
	{
		re: regexp.MustCompile(`^batch (\d{1,18}): (\d{1,18}) documents, (\d{1,18}) skipped, (\d{1,18}) failed sub-batches, (\d{1,18}) ([a-z_]+) in (\d+\.\d+)s, next offset (\d{1,18})$`),
		apply: func(m []string) Update {
			u := Update{
				Set: map[string]float64{
					MetricBatchIndex:   float64(atoi(m[1])),
					MetricOffset:       float64(atoi(m[8])),
					MetricBatchSeconds: atof(m[7]),
				},
				Add: map[string]float64{
					MetricDocumentsProcessed: float64(atoi(m[2]) - atoi(m[3])),
					MetricDocumentsSkipped:   float64(atoi(m[3])),
					MetricFailedSubBatches:   float64(atoi(m[4])),
				},
				Progress: NoProgress,
			}
			u.Add[m[6]] += float64(atoi(m[5]))
			return u
		},
	},
	{
		re: regexp.MustCompile(`^totals: (\d{1,18}) processed, (\d{1,18}) skipped, (\d{1,18}) seen in (\d+\.\d+)s \((\d+\.\d+) docs/s\)$`),
		apply: func(m []string) Update {
			return Update{
				Set: map[string]float64{
					MetricDocumentsProcessed: float64(atoi(m[1])),
					MetricDocumentsSkipped:   float64(atoi(m[2])),
					MetricDocumentsSeen:      float64(atoi(m[3])),
					MetricDurationSeconds:    atof(m[4]),
					MetricDocsPerSecond:      atof(m[5]),
				},
				Progress: NoProgress,
			}
		},
	},
	{
		re: regexp.MustCompile(`^model (.+?) ready(?:, max batch capacity (\d{1,18}))?$`),
		apply: func(m []string) Update {
			return ModelReadyEvent{Model: m[1], Capacity: atoi(m[2])}.Update()
		},
	},
	{
		re: regexp.MustCompile(`^progress: (\d{1,3})%$`),
		apply: func(m []string) Update {
			return Update{Progress: atoi(m[1])}
		},
	},
}

// Extract parses a diagnostic line into a metric update. It is pure and total:
// any input yields an Update, lines it does not recognize yield an empty one.
// A leading HH:MM:SS timestamp is ignored.
func Extract(line string) Update {
	line = strings.TrimSpace(line)
	line = timestampPrefix.ReplaceAllString(line, "")

	for _, r := range rules {
		if m := r.re.FindStringSubmatch(line); m != nil {
			return r.apply(m)
		}
	}
	return Update{Progress: NoProgress}
}

// atoi converts a regexp-validated digit string. Inputs are bounded to 18
// digits so the conversion cannot overflow; an empty string yields 0.
func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func atof(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
