// Package signedrequest はFacebookのsigned_requestの検証を提供する。
// signed_requestは "signature.payload" 形式で、どちらもbase64urlエンコードされている。
// signatureはアプリシークレットを鍵としたpayload部分（エンコード済み文字列）のHMAC-SHA256。
package signedrequest

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// AlgorithmHMACSHA256 は唯一サポートする署名アルゴリズム。
const AlgorithmHMACSHA256 = "HMAC-SHA256"

// 検証失敗の種別。呼び出し元は errors.Is で判別する。
var (
	ErrMalformedInput       = errors.New("signedrequest: malformed input")
	ErrDecode               = errors.New("signedrequest: decode error")
	ErrUnsupportedAlgorithm = errors.New("signedrequest: unsupported algorithm")
	ErrSignatureMismatch    = errors.New("signedrequest: signature mismatch")
	ErrMissingField         = errors.New("signedrequest: missing field")
)

// Payload は検証済みのsigned_requestのpayload。
type Payload struct {
	UserID    string
	Algorithm string
	IssuedAt  int64 // issued_atが無い場合は0

	// Raw はデコードしたJSONオブジェクトそのもの。数値はjson.Numberで保持する。
	Raw map[string]any
}

// Verify はsigned_requestを分解・デコードし、secretでHMAC-SHA256署名を検証する。
// 検証順序: 形式 → base64url → JSON → algorithm → 署名 → user_id。
func Verify(signedRequest, secret string) (*Payload, error) {
	encodedSig, encodedPayload, ok := split(signedRequest)
	if !ok {
		return nil, ErrMalformedInput
	}

	sig, err := decodeSegment(encodedSig)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrDecode, err)
	}
	payloadBytes, err := decodeSegment(encodedPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrDecode, err)
	}

	raw, err := parseObject(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrDecode, err)
	}

	algorithm, _ := raw["algorithm"].(string)
	if algorithm != AlgorithmHMACSHA256 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}

	// 署名はデコード前のpayload文字列に対して計算されている
	if !hmac.Equal(sig, computeMAC(encodedPayload, secret)) {
		return nil, ErrSignatureMismatch
	}

	userID := stringField(raw["user_id"])
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id", ErrMissingField)
	}

	issuedAt, _ := int64Field(raw["issued_at"])

	return &Payload{
		UserID:    userID,
		Algorithm: algorithm,
		IssuedAt:  issuedAt,
		Raw:       raw,
	}, nil
}

// Sign はpayloadをJSONエンコードしてsigned_requestを組み立てる。
// テストやローカル検証用のリクエスト生成に使う。
func Sign(payload map[string]any, secret string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("signedrequest: marshal payload: %w", err)
	}
	encodedPayload := base64.RawURLEncoding.EncodeToString(body)
	sig := base64.RawURLEncoding.EncodeToString(computeMAC(encodedPayload, secret))
	return sig + "." + encodedPayload, nil
}

// split は "signature.payload" を2つの空でない部分に分割する。
func split(signedRequest string) (string, string, bool) {
	parts := strings.Split(signedRequest, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// decodeSegment はURLセーフbase64をデコードする。
// '-'→'+'、'_'→'/' に置換して標準アルファベットに揃え、パディングの有無は問わない。
func decodeSegment(segment string) ([]byte, error) {
	s := strings.NewReplacer("-", "+", "_", "/").Replace(segment)
	s = strings.TrimRight(s, "=")
	return base64.RawStdEncoding.DecodeString(s)
}

// parseObject はJSONオブジェクトとしてパースする。配列やnullはエラーとする。
func parseObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("not a JSON object")
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON object")
	}
	return obj, nil
}

func computeMAC(encodedPayload, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encodedPayload))
	return mac.Sum(nil)
}

// stringField は文字列または数値のフィールドを文字列として取り出す。
func stringField(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

func int64Field(v any) (int64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return i, true
}
