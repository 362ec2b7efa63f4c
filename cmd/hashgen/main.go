package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
)

// Gera o hash bcrypt de LOCAL_ADMIN_PASSWORD_HASH.
func main() {
	password := flag.StringP("password", "p", "", "senha em texto puro (lida do stdin se vazia)")
	cost := flag.IntP("cost", "c", 12, "custo do bcrypt")
	flag.Parse()

	pw := *password
	if pw == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(os.Stderr, "informe a senha com --password ou pelo stdin")
			os.Exit(2)
		}
		pw = strings.TrimRight(line, "\r\n")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pw), *cost)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}
