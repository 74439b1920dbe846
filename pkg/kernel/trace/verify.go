package trace

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// VerifyResult is the outcome of verifying a trace file.
type VerifyResult struct {
	EventCount     int
	Valid          bool
	BrokenAt       int // -1 if no break
	SignatureOK    bool
	SignatureNoKey bool
	SigningKeyID   string
	ChainHash      string
	Error          string
}

// VerifyFile verifies the hash chain of a trace file. key may be nil, in
// which case a present signature is reported but not checked.
func VerifyFile(path string, key []byte) (*VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Verify(f, key)
}

// Verify checks hash chain integrity and the optional HMAC signature.
func Verify(r io.Reader, key []byte) (*VerifyResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	expectedPrevHash := genesisHash
	count := 0
	var lastEvent Event

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		count++

		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return &VerifyResult{
				EventCount: count,
				BrokenAt:   count,
				Error:      fmt.Sprintf("event %d: invalid JSON: %v", count, err),
			}, nil
		}

		if evt.PrevHash != expectedPrevHash {
			return &VerifyResult{
				EventCount: count,
				BrokenAt:   count,
				Error:      fmt.Sprintf("event %d: prev_hash mismatch (expected %s, got %q)", count, short(expectedPrevHash), short(evt.PrevHash)),
			}, nil
		}

		h := sha256.Sum256(line)
		expectedPrevHash = hex.EncodeToString(h[:])
		lastEvent = evt
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}

	result := &VerifyResult{
		EventCount: count,
		Valid:      true,
		BrokenAt:   -1,
	}

	if lastEvent.Type != EventRunComplete || lastEvent.Data == nil {
		return result, nil
	}
	if chainHash, ok := lastEvent.Data["chain_hash"].(string); ok {
		result.ChainHash = chainHash
	}
	sig, ok := lastEvent.Data["signature"].(string)
	if !ok {
		return result, nil
	}
	result.SigningKeyID, _ = lastEvent.Data["signing_key_id"].(string)
	if len(key) == 0 {
		result.SignatureNoKey = true
		return result, nil
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(result.ChainHash))
	expected := hex.EncodeToString(mac.Sum(nil))
	result.SignatureOK = hmac.Equal([]byte(sig), []byte(expected))
	return result, nil
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}
