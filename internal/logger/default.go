package logger

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"regexp"
	"strings"
)

type DefaultLogger struct {
	Logger
}

var Default = &DefaultLogger{}

var urlRegex = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*:\/\/[a-zA-Z0-9+%/.\-:_?&=#@+]+`)

// cleanString replaces every "scheme://..." URL with a marker. A URL that
// carries a ?url= query parameter (one of our own /proxy URLs, whose
// parameter is itself a percent-encoded origin URL) is replaced as a whole
// with a distinct "[redacted proxy url]" marker. A bare request path such as
// "/proxy?url=..." has no scheme, is not matched, and is left as it is.
func cleanString(text string) string {
	safe := urlRegex.ReplaceAllStringFunc(text, func(match string) string {
		if u, err := url.Parse(match); err == nil && u.Query().Get("url") != "" {
			return "[redacted proxy url]"
		}
		return "[redacted url]"
	})
	return safe
}

func safeLogEnabled() bool {
	return strings.EqualFold(os.Getenv("SAFE_LOGS"), "true")
}

func safeLog(format string) string {
	if safeLogEnabled() {
		return cleanString(format)
	}
	return format
}

func safeLogf(format string, v ...any) string {
	s := fmt.Sprintf(format, v...)
	if safeLogEnabled() {
		return cleanString(s)
	}
	return s
}

func (*DefaultLogger) Log(format string) {
	log.Println(safeLogf("[INFO] %s", format))
}

func (*DefaultLogger) Logf(format string, v ...any) {
	log.Println(safeLogf("[INFO] %s", fmt.Sprintf(format, v...)))
}

func (*DefaultLogger) Debug(format string) {
	if strings.EqualFold(os.Getenv("DEBUG"), "true") {
		log.Println(safeLog("[DEBUG] " + format))
	}
}

func (*DefaultLogger) Debugf(format string, v ...any) {
	if strings.EqualFold(os.Getenv("DEBUG"), "true") {
		log.Println(safeLogf("[DEBUG] %s", fmt.Sprintf(format, v...)))
	}
}

func (*DefaultLogger) Error(format string) {
	log.Println(safeLog("[ERROR] " + format))
}

func (*DefaultLogger) Errorf(format string, v ...any) {
	log.Println(safeLogf("[ERROR] %s", fmt.Sprintf(format, v...)))
}

func (*DefaultLogger) Warn(format string) {
	log.Println(safeLog("[WARN] " + format))
}

func (*DefaultLogger) Warnf(format string, v ...any) {
	log.Println(safeLogf("[WARN] %s", fmt.Sprintf(format, v...)))
}

func (*DefaultLogger) Fatal(format string) {
	log.Fatal(safeLog("[FATAL] " + format))
}

func (*DefaultLogger) Fatalf(format string, v ...any) {
	log.Fatal(safeLogf("[FATAL] %s", fmt.Sprintf(format, v...)))
}
