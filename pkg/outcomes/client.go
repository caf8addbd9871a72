package outcomes

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidSignature means the consumer rejected our OAuth signature,
	// typically a consumer key/secret mismatch with the Moodle site.
	ErrInvalidSignature = errors.New("outcome service rejected signature")
	// ErrOutcomeRejected means the consumer answered but did not report
	// success in the POX envelope.
	ErrOutcomeRejected = errors.New("outcome service did not report success")
	// ErrUnexpectedStatus means the consumer answered with a non-200 status,
	// so the reply body cannot be trusted as an outcome envelope.
	ErrUnexpectedStatus = errors.New("outcome service returned an unexpected status")
)

// defaultResultText fills resultData when a grade carries no feedback comment.
const defaultResultText = "Grade sent automatically"

// Client pushes grades back to an LTI 1.1 Outcome Service endpoint.
type Client interface {
	SendGrade(ctx context.Context, serviceURL, sourcedID string, score float64, comment string) error
}

type httpClient struct {
	consumerKey    string
	consumerSecret string
	http           *http.Client
	logger         zerolog.Logger
	now            func() time.Time
	nonce          func() string
}

// NewClient builds an outcome client signing with the given consumer
// credentials. They must match the key/secret configured on the Moodle side.
func NewClient(consumerKey, consumerSecret string, timeout time.Duration, logger zerolog.Logger) Client {
	return &httpClient{
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		http:           &http.Client{Timeout: timeout},
		logger:         logger.With().Str("component", "outcome_client").Logger(),
		now:            time.Now,
		nonce:          uuid.NewString,
	}
}

// SendGrade submits a replaceResult for one sourcedid. The score arrives on
// the tool's 0-10 scale and is normalized to the 0-1 range LTI requires. The
// comment travels as resultData feedback; an empty one gets a default text.
func (c *httpClient) SendGrade(ctx context.Context, serviceURL, sourcedID string, score float64, comment string) error {
	normalized := score / 10
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}
	if comment == "" {
		comment = defaultResultText
	}

	body := BuildReplaceResultXML(uuid.NewString(), sourcedID, normalized, comment)

	params := map[string]string{
		"oauth_consumer_key":     c.consumerKey,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(c.now().Unix(), 10),
		"oauth_nonce":            c.nonce(),
		"oauth_version":          "1.0",
		"oauth_body_hash":        BodyHash(body),
	}

	baseString, err := SignatureBaseString(http.MethodPost, serviceURL, params)
	if err != nil {
		return err
	}
	params["oauth_signature"] = Sign(baseString, c.consumerSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serviceURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build outcome request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Authorization", authorizationHeader(params))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send outcome: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read outcome reply: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("sourcedid", sourcedID).
			Msg("outcome request refused")
		return fmt.Errorf("%w: status %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	reply := strings.ToLower(string(raw))
	switch {
	case strings.Contains(reply, "signature not valid"):
		return ErrInvalidSignature
	case strings.Contains(reply, "imsx_codemajor>success"):
		return nil
	default:
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("sourcedid", sourcedID).
			Msg("outcome reply without success code")
		return fmt.Errorf("%w: status %d", ErrOutcomeRejected, resp.StatusCode)
	}
}

func authorizationHeader(params map[string]string) string {
	fields := make([]string, 0, len(params))
	for field := range params {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, field, PercentEncode(params[field])))
	}
	return "OAuth " + strings.Join(parts, ", ")
}

// BuildReplaceResultXML renders the POX envelope for one replaceResult call.
// The sourcedid and comment are XML-escaped; Moodle sourcedids are JSON blobs
// full of quotes and braces.
func BuildReplaceResultXML(messageID, sourcedID string, score float64, comment string) []byte {
	var escaped bytes.Buffer
	_ = xml.EscapeText(&escaped, []byte(sourcedID))
	var escapedComment bytes.Buffer
	_ = xml.EscapeText(&escapedComment, []byte(comment))

	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString(`<imsx_POXEnvelopeRequest xmlns="http://www.imsglobal.org/services/ltiv1p1/xsd/imsoms_v1p0">`)
	b.WriteString("<imsx_POXHeader><imsx_POXRequestHeaderInfo>")
	b.WriteString("<imsx_version>V1.0</imsx_version>")
	b.WriteString("<imsx_messageIdentifier>" + messageID + "</imsx_messageIdentifier>")
	b.WriteString("</imsx_POXRequestHeaderInfo></imsx_POXHeader>")
	b.WriteString("<imsx_POXBody><replaceResultRequest><resultRecord>")
	b.WriteString("<sourcedGUID><sourcedId>" + escaped.String() + "</sourcedId></sourcedGUID>")
	b.WriteString("<result><resultScore>")
	b.WriteString("<language>en</language>")
	b.WriteString("<textString>" + strconv.FormatFloat(score, 'f', -1, 64) + "</textString>")
	b.WriteString("</resultScore>")
	b.WriteString("<resultData><text>" + escapedComment.String() + "</text></resultData>")
	b.WriteString("</result>")
	b.WriteString("</resultRecord></replaceResultRequest></imsx_POXBody>")
	b.WriteString("</imsx_POXEnvelopeRequest>")

	return b.Bytes()
}
