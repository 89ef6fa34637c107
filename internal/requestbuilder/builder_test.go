package requestbuilder

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"messagepusher/internal/store"
)

func strPtr(s string) *string { return &s }

func TestSubstituteSinglePassNonRecursive(t *testing.T) {
	env := Env{"name": "{other}", "other": "world"}
	got := Substitute("hello {name}", env)
	require.Equal(t, "hello {other}", got, "the substituted value must not be rescanned for further placeholders")
}

func TestSubstituteUnknownPlaceholderResolvesToEmpty(t *testing.T) {
	got := Substitute("hello {missing}!", Env{})
	require.Equal(t, "hello !", got)
}

func TestTruncateRunesCountsCodepoints(t *testing.T) {
	// Each CJK character below is one codepoint but three UTF-8 bytes.
	s := "你好世界"
	got := TruncateRunes(s, 2)
	require.Equal(t, "你好", got)
}

func TestBuildChannelRequestJSONPost(t *testing.T) {
	tmpl := &store.ChannelTemplate{
		APIURL:      "https://example.test/hook",
		Method:      store.MethodPOST,
		ContentType: store.ContentJSON,
		Params:      map[string]string{"text": "{title}: {content}"},
		Headers:     map[string]string{"Authorization": "Bearer {token}"},
		Placeholders: map[string]string{"token": "secret-token"},
		MaxLength:   100,
	}
	msg := &store.Message{Title: strPtr("alert"), Content: strPtr("disk full"), ViewToken: "vt-1"}

	req, err := BuildChannelRequest(context.Background(), tmpl, msg)
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t, "application/json", req.Header.Get("Content-Type"))
	require.Equal(t, "Bearer secret-token", req.Header.Get("Authorization"))

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `"text":"alert: disk full"`)
}

func TestBuildChannelRequestGETQueryParams(t *testing.T) {
	tmpl := &store.ChannelTemplate{
		APIURL: "https://example.test/hook",
		Method: store.MethodGET,
		Params: map[string]string{"msg": "{content}"},
	}
	msg := &store.Message{Content: strPtr("hi")}

	req, err := BuildChannelRequest(context.Background(), tmpl, msg)
	require.NoError(t, err)
	require.Equal(t, "hi", req.URL.Query().Get("msg"))
}

func TestBuildChannelRequestFormEncoded(t *testing.T) {
	tmpl := &store.ChannelTemplate{
		APIURL:      "https://example.test/hook",
		Method:      store.MethodPOST,
		ContentType: store.ContentForm,
		Params:      map[string]string{"text": "{content}"},
	}
	msg := &store.Message{Content: strPtr("hi there")}

	req, err := BuildChannelRequest(context.Background(), tmpl, msg)
	require.NoError(t, err)
	require.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	require.Equal(t, "text=hi+there", string(body))
}

func TestBuildChannelRequestLengthCap(t *testing.T) {
	tmpl := &store.ChannelTemplate{
		APIURL:      "https://example.test/hook",
		Method:      store.MethodPOST,
		ContentType: store.ContentJSON,
		Params:      map[string]string{"text": "{content}"},
		MaxLength:   3,
	}
	msg := &store.Message{Content: strPtr("abcdef")}

	req, err := BuildChannelRequest(context.Background(), tmpl, msg)
	require.NoError(t, err)
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `"text":"abc"`)
}

func TestBuildAIRequestFoldsPromptAndModel(t *testing.T) {
	tmpl := &store.AIChannelTemplate{
		APIURL: "https://example.test/ai",
		Method: store.MethodPOST,
		Model:  "gpt-test",
		Prompt: "Summarize: {content}",
	}
	msg := &store.Message{Content: strPtr("a long incident report")}

	req, err := BuildAIRequest(context.Background(), tmpl, msg)
	require.NoError(t, err)
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `"model":"gpt-test"`)
	require.Contains(t, string(body), `"prompt":"Summarize: a long incident report"`)
}

func TestClassifyOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	require.Equal(t, OutcomeTransient, Classify(resp, nil))

	require.Equal(t, OutcomeTransient, Classify(nil, io.ErrUnexpectedEOF))

	okResp := &http.Response{StatusCode: 200}
	require.Equal(t, OutcomeSuccess, Classify(okResp, nil))

	badResp := &http.Response{StatusCode: 400}
	require.Equal(t, OutcomePermanent, Classify(badResp, nil))
}
