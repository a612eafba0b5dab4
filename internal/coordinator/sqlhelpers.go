package coordinator

import (
	"database/sql"
	"time"
)

func sqlString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func sqlNow() sql.NullTime {
	return sql.NullTime{Time: time.Now().UTC(), Valid: true}
}
