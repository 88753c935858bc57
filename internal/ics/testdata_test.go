package ics

import "strings"

// icsDoc wraps VEVENT blocks in a VCALENDAR and converts to CRLF.
func icsDoc(events ...string) []byte {
	s := "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//bsstatus//test//EN\n" +
		strings.Join(events, "") +
		"END:VCALENDAR\n"
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}
