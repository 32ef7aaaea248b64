package repositories

// TimeFormat is a fixed-width RFC3339 layout for timestamp columns.
// time.RFC3339Nano trims trailing fractional zeros, so its output does not
// sort lexicographically; padding the fraction to nine digits keeps the
// string ORDER BY and range comparisons in the sqlite repositories
// equivalent to comparing the times themselves.
const TimeFormat = "2006-01-02T15:04:05.000000000Z07:00"
