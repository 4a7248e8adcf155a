package util

import "golang.org/x/crypto/bcrypt"

// HashSecret 生成 bcrypt 哈希，用于配置中的 trigger secret
func HashSecret(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	return string(b), err
}

// CheckSecret 校验明文与 bcrypt 哈希是否匹配
func CheckSecret(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
