package license

import (
	"bytes"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"license-server/internal/model"
)

// CryptoContext 持有签名私钥与对称密钥，启动时从配置装载一次，
// 显式传入 Codec 而不是全局状态，方便测试注入临时密钥
type CryptoContext struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	aesKey     []byte
}

// NewCryptoContext 由已解析的密钥构造，aesKey 必须为32字节（AES-256）
func NewCryptoContext(privateKey *rsa.PrivateKey, aesKey []byte) (*CryptoContext, error) {
	if privateKey == nil {
		return nil, errors.New("缺少签名私钥")
	}
	if len(aesKey) != 32 {
		return nil, fmt.Errorf("AES 密钥必须为32字节，实际为 %d 字节", len(aesKey))
	}
	return &CryptoContext{
		privateKey: privateKey,
		publicKey:  &privateKey.PublicKey,
		aesKey:     aesKey,
	}, nil
}

// LoadCryptoContext 从 PEM 私钥文件与 hex 编码的 AES 密钥装载
func LoadCryptoContext(privateKeyPath, aesKeyHex string) (*CryptoContext, error) {
	aesKey, err := hex.DecodeString(aesKeyHex)
	if err != nil {
		return nil, fmt.Errorf("LICENSE_AES_KEY 不是有效的 hex 字符串: %w", err)
	}

	pemBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("读取私钥文件失败: %w", err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("私钥文件不是有效的 PEM 格式")
	}

	var privateKey *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		privateKey, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("解析私钥失败: %w", err)
		}
	default:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("解析私钥失败: %w", err)
		}
		var ok bool
		privateKey, ok = key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("私钥不是 RSA 类型")
		}
	}

	return NewCryptoContext(privateKey, aesKey)
}

// Codec 授权文件编解码器：构建载荷 → 签名 → 对称加密
type Codec struct {
	crypto *CryptoContext
}

func NewCodec(cc *CryptoContext) *Codec {
	return &Codec{crypto: cc}
}

// PayloadInput 构建授权文件载荷所需的输入
type PayloadInput struct {
	License     *model.License
	MachineCode string
	HardwareIDs map[string]string
	AppVersion  string
	DegradedAt  *time.Time
}

// BuildPayload 构建待签名的载荷，时间统一为 UTC RFC3339
func BuildPayload(in PayloadInput) map[string]any {
	l := in.License
	payload := map[string]any{
		"license_id":      l.SerialNumber,
		"machine_code":    in.MachineCode,
		"licensed_to":     l.Customer.Name,
		"email":           l.Customer.Email,
		"issued_at":       l.CreatedAt.UTC().Format(time.RFC3339),
		"features":        l.Features,
		"connection_type": l.ConnectionType,
	}
	if l.ExpiresAt != nil {
		payload["expires_at"] = l.ExpiresAt.UTC().Format(time.RFC3339)
	} else {
		payload["expires_at"] = nil
	}
	if len(in.HardwareIDs) > 0 {
		payload["hardware_ids"] = in.HardwareIDs
	}
	if in.AppVersion != "" {
		payload["app_version"] = in.AppVersion
	}
	if in.DegradedAt != nil {
		payload["degraded_at"] = in.DegradedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

// Encode 生成最终的授权文件内容：
// base64( iv[16] || AES-256-CBC( canonical_json(payload+signature) ) )
func (c *Codec) Encode(in PayloadInput) (string, error) {
	payload := BuildPayload(in)

	signature, err := c.sign(payload)
	if err != nil {
		return "", WrapError(KindCryptoFailure, "授权文件签名失败", err)
	}
	payload["signature"] = signature

	content, err := canonicalJSON(payload)
	if err != nil {
		return "", WrapError(KindCryptoFailure, "授权文件序列化失败", err)
	}

	encrypted, err := c.encrypt(content)
	if err != nil {
		return "", WrapError(KindCryptoFailure, "授权文件加密失败", err)
	}
	return encrypted, nil
}

// Decode 解密并验签，是 Encode 的逆操作，主要供客户端与测试使用
func (c *Codec) Decode(content string) (map[string]any, error) {
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, WrapError(KindCryptoFailure, "授权文件不是有效的 base64", err)
	}
	if len(raw) < aes.BlockSize*2 || len(raw)%aes.BlockSize != 0 {
		return nil, NewError(KindCryptoFailure, "授权文件长度不合法")
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	block, err := aes.NewCipher(c.crypto.aesKey)
	if err != nil {
		return nil, WrapError(KindCryptoFailure, "初始化解密器失败", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext)
	if err != nil {
		return nil, WrapError(KindCryptoFailure, "授权文件填充校验失败", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(unpadded, &payload); err != nil {
		return nil, WrapError(KindCryptoFailure, "授权文件内容解析失败", err)
	}

	sigB64, ok := payload["signature"].(string)
	if !ok {
		return nil, NewError(KindCryptoFailure, "授权文件缺少签名")
	}
	delete(payload, "signature")

	if err := c.verify(payload, sigB64); err != nil {
		return nil, WrapError(KindCryptoFailure, "授权文件签名校验失败", err)
	}
	return payload, nil
}

// sign 对载荷的 canonical JSON 做 SHA-256，再对该哈希做 RSA-PSS 签名。
// 签名算法本身会再做一次 SHA-256，与客户端的验签实现保持一致
func (c *Codec) sign(payload map[string]any) (string, error) {
	content, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	contentHash := sha256.Sum256(content)
	digest := sha256.Sum256(contentHash[:])

	signature, err := rsa.SignPSS(rand.Reader, c.crypto.privateKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}

func (c *Codec) verify(payload map[string]any, sigB64 string) error {
	signature, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return err
	}
	content, err := canonicalJSON(payload)
	if err != nil {
		return err
	}
	contentHash := sha256.Sum256(content)
	digest := sha256.Sum256(contentHash[:])
	return rsa.VerifyPSS(c.crypto.publicKey, crypto.SHA256, digest[:], signature, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
}

func (c *Codec) encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(c.crypto.aesKey)
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(append(iv, ciphertext...)), nil
}

// canonicalJSON 稳定的 JSON 序列化：map 键按字典序输出，不转义 HTML
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("数据为空")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(data) {
		return nil, errors.New("填充长度不合法")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.New("填充内容不合法")
		}
	}
	return data[:len(data)-padding], nil
}
