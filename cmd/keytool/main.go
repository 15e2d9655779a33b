package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"confluencebot/pkg/crypto"
)

const usage = `keytool - подготовка секретов окружения confluencebot

Usage:
  keytool gen-key                  ключ для ENCRYPTION_KEY
  keytool hash-token [-cost N]     bcrypt-хеш токена для API_TOKEN_HASH (токен читается из stdin)
  keytool encrypt                  значение для *_ENC (секрет из stdin, ключ из ENCRYPTION_KEY)
  keytool verify-token             проверка токена из stdin против API_TOKEN_HASH
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "gen-key":
		err = genKey()
	case "hash-token":
		err = hashToken(os.Args[2:])
	case "encrypt":
		err = encrypt()
	case "verify-token":
		err = verifyToken()
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func genKey() error {
	key, err := crypto.GenerateKeyString()
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}

func hashToken(args []string) error {
	fs := flag.NewFlagSet("hash-token", flag.ExitOnError)
	cost := fs.Int("cost", crypto.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}

	token, err := readSecret()
	if err != nil {
		return err
	}
	hash, err := crypto.HashTokenWithCost(token, *cost)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func encrypt() error {
	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		return fmt.Errorf("ENCRYPTION_KEY is not set")
	}
	if err := crypto.ValidateKey([]byte(key)); err != nil {
		return err
	}

	secret, err := readSecret()
	if err != nil {
		return err
	}
	enc, err := crypto.EncryptSecret(secret, key)
	if err != nil {
		return err
	}
	fmt.Println(enc)
	return nil
}

func verifyToken() error {
	hash := os.Getenv("API_TOKEN_HASH")
	if hash == "" {
		return fmt.Errorf("API_TOKEN_HASH is not set")
	}
	token, err := readSecret()
	if err != nil {
		return err
	}
	if err := crypto.VerifyToken(token, hash); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

// readSecret читает первую строку stdin, чтобы секрет не попадал в историю shell
func readSecret() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	s := strings.TrimRight(line, "\r\n")
	if s == "" {
		return "", fmt.Errorf("empty input")
	}
	return s, nil
}
