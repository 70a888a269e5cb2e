package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ipsix/plugscan/internal/plugin"
)

// Turtle is read with a handful of patterns rather than a full RDF parser;
// bundles are small and the fields needed are stable across hosts.
var (
	ttlPrefix  = regexp.MustCompile(`(?m)^\s*@prefix\s+([A-Za-z0-9_-]*):\s*<([^>]*)>\s*\.`)
	ttlSubject = regexp.MustCompile(`(?s)\A\s*(<[^>]+>|[A-Za-z0-9_-]*:[A-Za-z0-9_.-]+)\s+(.*)\s\.\s*\z`)
	ttlType    = regexp.MustCompile(`(?:^|[;\[\s])a\s+([^;\[\]]+)`)
	ttlSeeAlso = regexp.MustCompile(`rdfs:seeAlso\s+<([^>]+)>`)
	ttlName    = regexp.MustCompile(`doap:name\s+"([^"]+)"`)
	ttlAuthor  = regexp.MustCompile(`foaf:name\s+"([^"]+)"`)
	ttlPort    = regexp.MustCompile(`\[[^\[\]]*lv2:index[^\[\]]*\]`)
	ttlUI      = regexp.MustCompile(`\bui:ui\b|\buiext:ui\b`)
)

type ttlStatement struct {
	subject string
	body    string
}

// ProbeLV2 reads the manifest of an LV2 bundle and the data files it refers
// to, returning one descriptor per plugin declared in the bundle.
func ProbeLV2(_ context.Context, _ plugin.Protocol, bundle string) ([]plugin.Descriptor, error) {
	manifestPath := filepath.Join(bundle, "manifest.ttl")
	manifest, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read lv2 manifest: %w", err)
	}

	var out []plugin.Descriptor
	for _, st := range parseTurtle(string(manifest)) {
		if !declaresType(st.body, "Plugin") {
			continue
		}
		uri := strings.Trim(st.subject, "<>")
		if !strings.Contains(uri, "://") {
			uri = expandPrefixed(string(manifest), st.subject)
		}

		data := []string{string(manifest)}
		for _, m := range ttlSeeAlso.FindAllStringSubmatch(st.body, -1) {
			raw, err := os.ReadFile(filepath.Join(bundle, m[1]))
			if err != nil {
				continue
			}
			data = append(data, string(raw))
		}
		desc := describeLV2(uri, data)
		desc.Path = bundle
		out = append(out, desc)
	}
	return out, nil
}

func describeLV2(uri string, files []string) plugin.Descriptor {
	desc := plugin.Descriptor{
		URI:      uri,
		Protocol: plugin.ProtocolLV2,
		Arch:     plugin.Arch64,
	}
	for _, file := range files {
		for _, st := range parseTurtle(file) {
			subject := strings.Trim(st.subject, "<>")
			if subject != uri && expandPrefixed(file, st.subject) != uri {
				continue
			}
			if m := ttlName.FindStringSubmatch(st.body); m != nil && desc.Name == "" {
				desc.Name = m[1]
			}
			if m := ttlAuthor.FindStringSubmatch(st.body); m != nil && desc.Author == "" {
				desc.Author = m[1]
			}
			for _, class := range types(st.body) {
				if class == "Plugin" || !strings.HasSuffix(class, "Plugin") {
					continue
				}
				desc.Category = plugin.CategoryFromString(class)
			}
			if ttlUI.MatchString(st.body) {
				desc.HasCustomUI = true
			}
			for _, port := range ttlPort.FindAllString(st.body, -1) {
				countPort(&desc, port)
			}
		}
	}
	if desc.Name == "" {
		desc.Name = lastSegment(uri)
	}
	return desc
}

func countPort(desc *plugin.Descriptor, port string) {
	input := strings.Contains(port, "InputPort")
	output := strings.Contains(port, "OutputPort")
	switch {
	case strings.Contains(port, "AudioPort"):
		desc.AudioIns += b2i(input)
		desc.AudioOuts += b2i(output)
	case strings.Contains(port, "CVPort"):
		desc.CVIns += b2i(input)
		desc.CVOuts += b2i(output)
	case strings.Contains(port, "ControlPort"):
		desc.ControlIns += b2i(input)
		desc.ControlOuts += b2i(output)
	case strings.Contains(port, "MidiEvent"):
		desc.MidiIns += b2i(input)
		desc.MidiOuts += b2i(output)
	}
}

func parseTurtle(doc string) []ttlStatement {
	var out []ttlStatement
	for _, chunk := range splitStatements(stripComments(doc)) {
		if strings.HasPrefix(strings.TrimSpace(chunk), "@") {
			continue
		}
		m := ttlSubject.FindStringSubmatch(chunk + " .")
		if m == nil {
			continue
		}
		out = append(out, ttlStatement{subject: m[1], body: m[2]})
	}
	return out
}

// splitStatements cuts a document on the '.' that ends each top-level
// statement, ignoring dots inside IRIs, strings and blank nodes.
func splitStatements(doc string) []string {
	var (
		out      []string
		start    int
		depth    int
		inIRI    bool
		inString bool
	)
	for i := 0; i < len(doc); i++ {
		ch := doc[i]
		switch {
		case inString:
			if ch == '\\' {
				i++
			} else if ch == '"' {
				inString = false
			}
		case inIRI:
			if ch == '>' {
				inIRI = false
			}
		case ch == '"':
			inString = true
		case ch == '<':
			inIRI = true
		case ch == '[' || ch == '(':
			depth++
		case ch == ']' || ch == ')':
			depth--
		case ch == '.' && depth == 0:
			// Decimal literals such as 0.5 are not statement ends.
			if i+1 < len(doc) && doc[i+1] >= '0' && doc[i+1] <= '9' {
				continue
			}
			out = append(out, strings.TrimSpace(doc[start:i]))
			start = i + 1
		}
	}
	return out
}

func stripComments(doc string) string {
	lines := strings.Split(doc, "\n")
	for i, line := range lines {
		inIRI, inString := false, false
		for j := 0; j < len(line); j++ {
			switch ch := line[j]; {
			case inString:
				if ch == '"' {
					inString = false
				}
			case inIRI:
				if ch == '>' {
					inIRI = false
				}
			case ch == '"':
				inString = true
			case ch == '<':
				inIRI = true
			case ch == '#':
				lines[i] = line[:j]
				j = len(line)
			}
		}
	}
	return strings.Join(lines, "\n")
}

func declaresType(body, suffix string) bool {
	for _, t := range types(body) {
		if t == suffix {
			return true
		}
	}
	return false
}

// types returns the local names of the rdf:type objects of a statement.
func types(body string) []string {
	var out []string
	for _, m := range ttlType.FindAllStringSubmatch(body, -1) {
		for _, obj := range strings.Split(m[1], ",") {
			obj = strings.Trim(strings.TrimSpace(obj), "<>")
			out = append(out, lastSegment(obj))
		}
	}
	return out
}

func expandPrefixed(doc, term string) string {
	prefix, local, ok := strings.Cut(term, ":")
	if !ok {
		return term
	}
	for _, m := range ttlPrefix.FindAllStringSubmatch(doc, -1) {
		if m[1] == prefix {
			return m[2] + local
		}
	}
	return term
}

func lastSegment(s string) string {
	if i := strings.LastIndexAny(s, "#/:"); i >= 0 {
		return s[i+1:]
	}
	return s
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
