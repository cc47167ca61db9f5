package logger

import (
	"io"
	"log"
	"strings"
	"sync"

	"perpbot/internal/pkg/jsonutil"
)

var (
	oracleMu       sync.Mutex
	oracleLog      *log.Logger
	oracleDumpBody bool
)

// SetLLMWriter routes oracle request/response blocks to w. A nil writer
// disables the oracle log.
func SetLLMWriter(w io.Writer) {
	oracleMu.Lock()
	defer oracleMu.Unlock()
	if w == nil {
		oracleLog = nil
		return
	}
	oracleLog = log.New(w, "", log.LstdFlags)
}

// EnableLLMPayloadDump controls whether raw request payloads are written.
func EnableLLMPayloadDump(enabled bool) {
	oracleMu.Lock()
	oracleDumpBody = enabled
	oracleMu.Unlock()
}

type oracleSection struct {
	Title string
	Body  string
}

func writeOracleBlock(kind, provider, traceID string, sections []oracleSection) {
	oracleMu.Lock()
	l := oracleLog
	oracleMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[ORACLE]")
	for _, tag := range []string{kind, provider, traceID} {
		if tag == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		title := strings.TrimSpace(sec.Title)
		if title == "" {
			title = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(title)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}

// LogOracleRequest records the prompt pair sent to the advisory model.
func LogOracleRequest(provider, traceID, systemPrompt, userPrompt, payload string) {
	sections := []oracleSection{
		{Title: "SYSTEM", Body: systemPrompt},
		{Title: "USER", Body: userPrompt},
	}
	oracleMu.Lock()
	dump := oracleDumpBody
	oracleMu.Unlock()
	if dump && strings.TrimSpace(payload) != "" {
		sections = append(sections, oracleSection{Title: "PAYLOAD", Body: payload})
	}
	writeOracleBlock("request", provider, traceID, sections)
}

// LogOracleResponse records the raw text returned by the advisory model.
// A parsable JSON object in raw is repeated indented below the raw text.
func LogOracleResponse(provider, traceID, raw string) {
	sections := []oracleSection{{Title: "RAW", Body: raw}}
	if obj, ok := jsonutil.PrettyObject(raw); ok && obj != strings.TrimSpace(raw) {
		sections = append(sections, oracleSection{Title: "JSON", Body: obj})
	}
	writeOracleBlock("response", provider, traceID, sections)
}
