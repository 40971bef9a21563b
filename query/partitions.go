package query

import "time"

// DayPartitions resolves times onto UTC calendar-day partitions, the
// lake's default layout when no ingestion manifest is wired in.
func DayPartitions(_ string, atMicros int64) (string, error) {
	return time.UnixMicro(atMicros).UTC().Format("2006-01-02"), nil
}
