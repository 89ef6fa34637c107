// Package requestbuilder turns a channel (or AI channel) template and a
// message into a concrete *http.Request: it resolves the substitution
// environment, applies the channel's length cap, rewrites every `{name}`
// placeholder in the template's api_url/params/headers, and encodes the body for
// the template's declared method and content type.
package requestbuilder

import (
	"strings"
	"unicode/utf8"

	"messagepusher/internal/store"
)

// Env is the flat name->value substitution environment a template's
// placeholder strings are resolved against. Keys come from the
// message's own fields plus the template's own static `placeholders` map;
// message fields win on a name collision, since they are the caller's
// actual payload.
type Env map[string]string

// Built-in env keys every message contributes, mirroring the original
// model fields (`title`, `content`, `url`, `url_content`).
const (
	KeyTitle      = "title"
	KeyContent    = "content"
	KeyURL        = "url"
	KeyURLContent = "url_content"
	KeyViewToken  = "view_token"

	// KeyPrompt is bound by BuildAIRequest only, after the AI channel's
	// own prompt template has been resolved, so params/headers can in
	// turn reference {prompt}.
	KeyPrompt = "prompt"
)

// BuildEnv constructs the substitution environment for one (message,
// maxLength) pair: static placeholders first, then message fields
// (content truncated to maxLength codepoints), so message data always
// takes precedence over a same-named static placeholder.
func BuildEnv(msg *store.Message, staticPlaceholders map[string]string, maxLength int) Env {
	env := make(Env, len(staticPlaceholders)+5)
	for k, v := range staticPlaceholders {
		env[k] = v
	}
	env[KeyTitle] = derefOr(msg.Title, "")
	env[KeyContent] = TruncateRunes(derefOr(msg.Content, ""), maxLength)
	env[KeyURL] = derefOr(msg.URL, "")
	env[KeyURLContent] = TruncateRunes(derefOr(msg.URLContent, ""), maxLength)
	env[KeyViewToken] = msg.ViewToken
	return env
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

// TruncateRunes caps s at max codepoints (not bytes), matching the
// channel's max_length semantics for user-supplied text.
func TruncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n >= max {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// Substitute performs a single, non-recursive pass replacing every
// `{name}` token with its env binding. A `{name}` with no matching env
// entry resolves to the empty string, and the output of a substitution
// is never re-scanned for further `{name}` tokens.
func Substitute(template string, env Env) string {
	var b strings.Builder
	i := 0
	for i < len(template) {
		open := strings.IndexByte(template[i:], '{')
		if open == -1 {
			b.WriteString(template[i:])
			break
		}
		open += i
		close := strings.IndexByte(template[open:], '}')
		if close == -1 {
			b.WriteString(template[i:])
			break
		}
		close += open
		name := template[open+1 : close]
		b.WriteString(template[i:open])
		b.WriteString(env[name]) // missing key yields the zero value: ""
		i = close + 1
	}
	return b.String()
}

// SubstituteMap applies Substitute to every value in m, preserving keys.
func SubstituteMap(m map[string]string, env Env) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Substitute(v, env)
	}
	return out
}
