package crypto_util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"lukechampine.com/blake3"
)

// CalculateBlake3 计算输入的 Blake3 哈希值。
func CalculateBlake3(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// DeriveToken 由若干字段确定性地生成 32 字节十六进制令牌
// 字段之间用 0x1f 分隔，避免 ("ab","c") 与 ("a","bc") 撞车
func DeriveToken(parts ...string) string {
	return CalculateBlake3([]byte(strings.Join(parts, "\x1f")))
}

// HmacSHA256 用 key 对 data 做 HMAC-SHA256 签名，返回十六进制
func HmacSHA256(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHmacSHA256 常量时间比较签名
func VerifyHmacSHA256(key, data []byte, signature string) bool {
	expected := HmacSHA256(key, data)
	return hmac.Equal([]byte(expected), []byte(signature))
}
