package outcomes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const successReply = `<?xml version="1.0"?>
<imsx_POXEnvelopeResponse xmlns="http://www.imsglobal.org/services/ltiv1p1/xsd/imsoms_v1p0">
  <imsx_POXHeader><imsx_POXResponseHeaderInfo><imsx_statusInfo>
    <imsx_codeMajor>success</imsx_codeMajor>
  </imsx_statusInfo></imsx_POXResponseHeaderInfo></imsx_POXHeader>
  <imsx_POXBody><replaceResultResponse/></imsx_POXBody>
</imsx_POXEnvelopeResponse>`

func newTestClient(t *testing.T, url string) *httpClient {
	t.Helper()
	client := NewClient("key", "secret", 5*time.Second, zerolog.Nop()).(*httpClient)
	client.now = func() time.Time { return time.Unix(1700000000, 0) }
	client.nonce = func() string { return "fixed-nonce" }
	_ = url
	return client
}

func TestSendGradeSuccess(t *testing.T) {
	var gotBody string
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(successReply))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.SendGrade(context.Background(), server.URL+"/grade", "sourced-1", 8.5, "Well argued.")
	require.NoError(t, err)

	require.Contains(t, gotBody, "<sourcedId>sourced-1</sourcedId>")
	require.Contains(t, gotBody, "<textString>0.85</textString>")
	require.Contains(t, gotBody, "<resultData><text>Well argued.</text></resultData>")
	require.Contains(t, gotBody, "replaceResultRequest")

	require.True(t, strings.HasPrefix(gotAuth, "OAuth "))
	require.Contains(t, gotAuth, `oauth_consumer_key="key"`)
	require.Contains(t, gotAuth, `oauth_signature_method="HMAC-SHA1"`)
	require.Contains(t, gotAuth, `oauth_nonce="fixed-nonce"`)
	require.Contains(t, gotAuth, "oauth_body_hash=")
	require.Contains(t, gotAuth, "oauth_signature=")
}

func TestSendGradeDefaultsFeedbackComment(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		_, _ = w.Write([]byte(successReply))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	require.NoError(t, client.SendGrade(context.Background(), server.URL, "s", 5, ""))
	require.Contains(t, gotBody, "<resultData><text>"+defaultResultText+"</text></resultData>")
}

func TestSendGradeClampsScore(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		_, _ = w.Write([]byte(successReply))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	require.NoError(t, client.SendGrade(context.Background(), server.URL, "s", 12, ""))
	require.Contains(t, gotBody, "<textString>1</textString>")

	require.NoError(t, client.SendGrade(context.Background(), server.URL, "s", -3, ""))
	require.Contains(t, gotBody, "<textString>0</textString>")
}

func TestSendGradeServerError(t *testing.T) {
	// A 5xx reply is a transport failure even when a success envelope slips
	// through in the body.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(successReply))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.SendGrade(context.Background(), server.URL, "s", 5, "")
	require.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestSendGradeInvalidSignature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OAuth signature not valid for this request"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.SendGrade(context.Background(), server.URL, "s", 5, "")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSendGradeFailureEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<imsx_codeMajor>failure</imsx_codeMajor>"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.SendGrade(context.Background(), server.URL, "s", 5, "")
	require.ErrorIs(t, err, ErrOutcomeRejected)
}

func TestBuildReplaceResultXMLEscapesSourcedID(t *testing.T) {
	body := string(BuildReplaceResultXML("msg-1", `{"a":"<b>&c"}`, 0.5, "score < 1 & rising"))
	require.Contains(t, body, "&lt;b&gt;&amp;c")
	require.NotContains(t, body, "<b>&c")
	require.Contains(t, body, "<imsx_messageIdentifier>msg-1</imsx_messageIdentifier>")
	require.Contains(t, body, "<resultData><text>score &lt; 1 &amp; rising</text></resultData>")
}

func TestBuildReplaceResultXMLCarriesFeedback(t *testing.T) {
	body := string(BuildReplaceResultXML("msg-1", "sourced-1", 0.75, "Good structure."))
	require.Contains(t, body, "</resultScore><resultData><text>Good structure.</text></resultData></result>")
}

func TestAuthorizationHeaderSortsParams(t *testing.T) {
	header := authorizationHeader(map[string]string{
		"oauth_version":          "1.0",
		"oauth_nonce":            "n",
		"oauth_timestamp":        "1",
		"oauth_consumer_key":     "k",
		"oauth_body_hash":        "h",
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_signature":        "s",
	})
	require.Equal(t, `OAuth oauth_body_hash="h", oauth_consumer_key="k", oauth_nonce="n", `+
		`oauth_signature="s", oauth_signature_method="HMAC-SHA1", oauth_timestamp="1", oauth_version="1.0"`,
		header)
}
