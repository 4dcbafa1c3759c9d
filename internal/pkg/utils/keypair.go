package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	solTypes "github.com/blocto/solana-go-sdk/types"
)

// LoadKeypair 读取私钥文件，支持 solana-keygen 的 JSON 数组格式与 base58 字符串
func LoadKeypair(path string) (solTypes.Account, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return solTypes.Account{}, err
	}
	return ParseKeypair(raw)
}

func ParseKeypair(raw []byte) (solTypes.Account, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return solTypes.Account{}, fmt.Errorf("empty keypair")
	}
	if !strings.HasPrefix(text, "[") {
		return solTypes.AccountFromBase58(text)
	}

	var ints []int
	if err := json.Unmarshal([]byte(text), &ints); err != nil {
		return solTypes.Account{}, fmt.Errorf("decode keypair json: %w", err)
	}
	if len(ints) != 64 {
		return solTypes.Account{}, fmt.Errorf("keypair must be 64 bytes, got %d", len(ints))
	}
	key := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return solTypes.Account{}, fmt.Errorf("keypair byte %d out of range: %d", i, v)
		}
		key[i] = byte(v)
	}
	return solTypes.AccountFromBytes(key)
}
