package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var (
	inputFile = os.Stdin
)

func guidedInitialization(config *Config) error {
	scanner := bufio.NewScanner(inputFile)

	input, err := ask(scanner, fmt.Sprintf("Enter backend (smugmug, drive) [default: %s]", config.Backend))
	if err != nil {
		return err
	}
	if input != "" {
		config.Backend = input
	}

	input, err = ask(scanner, fmt.Sprintf("Enter maximum concurrent operations [default: %d]", config.Concurrency))
	if err != nil {
		return err
	}
	if input != "" {
		n, err := strconv.Atoi(input)
		if err != nil {
			return fmt.Errorf("invalid concurrency: %w", err)
		}
		config.Concurrency = n
	}

	input, err = ask(scanner, fmt.Sprintf("Enter content file extensions [default: %s]", strings.Join(config.Extensions, ",")))
	if err != nil {
		return err
	}
	if input != "" {
		config.Extensions = parseExtensions(input)
	}

	return nil
}

func parseExtensions(input string) []string {
	var exts []string
	for _, e := range strings.Split(input, ",") {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, strings.ToLower(e))
	}
	return exts
}

func ask(scanner *bufio.Scanner, prompt string) (string, error) {
	fmt.Printf("%s: ", prompt)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("could not read user input: %w", err)
		}
		return "", nil // EOF or closed input
	}
	return strings.TrimSpace(scanner.Text()), nil
}
