// hash-admin-password prints a bcrypt hash for ADMIN_PASSWORD_HASH, so the
// plain admin password does not have to live in the environment.
//
// Usage (from backend directory):
//
//	go run ./cmd/hash-admin-password -password 'secret'
//	echo -n 'secret' | go run ./cmd/hash-admin-password
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/bills_backend/utils"
)

func main() {
	password := flag.String("password", "", "Password to hash. Read from stdin when empty.")
	flag.Parse()

	plain := *password
	if plain == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(os.Stderr, "no password given (use -password or stdin)")
			os.Exit(2)
		}
		plain = strings.TrimRight(line, "\r\n")
	}
	if plain == "" {
		fmt.Fprintln(os.Stderr, "password must not be empty")
		os.Exit(2)
	}

	hashed, err := utils.HashPassword(plain)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hashed)
}
