// Package cryptox 提供上传数据包的对称加解密。
//
// 每个研究项目使用独立的 AES-256 密钥，由主密钥经 HKDF-SHA256 派生，
// 密文格式为 nonce(12 字节) || AES-GCM 密文。
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

var (
	ErrEmptyMasterSecret  = errors.New("master secret must not be empty")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// StudyDecryptor 按研究项目派生密钥并解密上传包。
type StudyDecryptor struct {
	master []byte
}

// NewStudyDecryptor 创建一个新的 StudyDecryptor 实例。
func NewStudyDecryptor(masterSecret string) (*StudyDecryptor, error) {
	if masterSecret == "" {
		return nil, ErrEmptyMasterSecret
	}
	return &StudyDecryptor{master: []byte(masterSecret)}, nil
}

// StudyKey 派生指定研究项目的 256 位密钥。
func (d *StudyDecryptor) StudyKey(studyID string) ([]byte, error) {
	r := hkdf.New(sha256.New, d.master, nil, []byte("upload-encryption:"+studyID))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key for study %s: %w", studyID, err)
	}
	return key, nil
}

func (d *StudyDecryptor) gcm(studyID string) (cipher.AEAD, error) {
	key, err := d.StudyKey(studyID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt 使用研究项目密钥加密数据，客户端 SDK 与测试使用。
func (d *StudyDecryptor) Encrypt(studyID string, plaintext []byte) ([]byte, error) {
	aesgcm, err := d.gcm(studyID)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt 解密 Encrypt 生成的密文。
func (d *StudyDecryptor) Decrypt(studyID string, data []byte) ([]byte, error) {
	aesgcm, err := d.gcm(studyID)
	if err != nil {
		return nil, err
	}
	ns := aesgcm.NonceSize()
	if len(data) < ns {
		return nil, ErrCiphertextTooShort
	}
	return aesgcm.Open(nil, data[:ns], data[ns:], nil)
}
