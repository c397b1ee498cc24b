// Package webapp encodes question batches into links for the static question
// front end and decodes the front end's answers.
//
// A link is baseURL + "#d=" + token, where token is the URL-safe base64
// (with padding) of the minified JSON array of questions.
package webapp

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BTreeMap/AskFlow/internal/models"
)

// FragmentPrefix separates the base URL from the encoded token.
const FragmentPrefix = "#d="

// EncodeToken serializes questions to minified JSON and returns the URL-safe
// base64 token. Non-ASCII text is kept as UTF-8 and HTML characters are not
// escaped, so the output is stable for a given input.
func EncodeToken(questions []models.Question) (string, error) {
	if questions == nil {
		questions = []models.Question{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(questions); err != nil {
		return "", fmt.Errorf("failed to encode questions: %w", err)
	}
	data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return base64.URLEncoding.EncodeToString(data), nil
}

// EncodeURL appends the token for questions to baseURL as a fragment.
func EncodeURL(baseURL string, questions []models.Question) (string, error) {
	token, err := EncodeToken(questions)
	if err != nil {
		return "", err
	}
	if i := strings.Index(baseURL, "#"); i >= 0 {
		baseURL = baseURL[:i]
	}
	return baseURL + FragmentPrefix + token, nil
}

// DecodeToken reverses EncodeToken. Unpadded tokens are accepted too.
func DecodeToken(token string) ([]models.Question, error) {
	token = strings.TrimSpace(token)
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			return nil, fmt.Errorf("invalid token encoding: %w", err)
		}
	}
	var questions []models.Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("invalid token payload: %w", err)
	}
	return questions, nil
}

// DecodeURL extracts and decodes the token from a link built by EncodeURL.
func DecodeURL(link string) ([]models.Question, error) {
	i := strings.Index(link, FragmentPrefix)
	if i < 0 {
		return nil, fmt.Errorf("link has no %q fragment", FragmentPrefix)
	}
	return DecodeToken(link[i+len(FragmentPrefix):])
}

// DecodeAnswers parses the JSON array of {question, answer} pairs posted back
// by the front end. Pairs with an empty question are dropped.
func DecodeAnswers(data []byte) ([]models.Interaction, error) {
	var raw []models.Interaction
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid answers payload: %w", err)
	}
	out := make([]models.Interaction, 0, len(raw))
	for _, it := range raw {
		if strings.TrimSpace(it.Question) == "" {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}
