package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"sealroom/internal/domain"
)

var (
	stdinOnce sync.Once
	stdin     *bufio.Reader
)

// readLine reads the next stdin line, or env when it is set.
func readLine(cmd *cobra.Command, env, what string) (string, error) {
	if v, ok := os.LookupEnv(env); ok {
		return v, nil
	}
	stdinOnce.Do(func() { stdin = bufio.NewReader(cmd.InOrStdin()) })
	line, err := stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("%s required: set %s or pass it on stdin", what, env)
	}
	return line, nil
}

func readPassphrase(cmd *cobra.Command) (string, error) {
	return readLine(cmd, "SEALROOM_PASSPHRASE", "passphrase")
}

// unlockDevice unlocks the selected device. With --biometric the passphrase
// is optional.
func unlockDevice(cmd *cobra.Command) (domain.Identity, *domain.UnlockedKeyHandle, error) {
	pass, err := readPassphrase(cmd)
	if err != nil && !biometric {
		return domain.Identity{}, nil, err
	}
	return wire.UnlockDevice(cmd.Context(), deviceFpr, pass, biometric)
}
