// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package apikey resolves the Nasdaq Data Link API key.
//
// The key is looked up in this order:
//  1. the environment variable NASDAQ_DATA_LINK_API_KEY;
//  2. the key file, by default ~/.nasdaq/data_link_apikey;
//  3. otherwise there is no key, and requests go out unauthenticated.
//
// A resolved or saved key is also assigned to config.Default().
package apikey

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/stockparfait/datalink/apierr"
	"github.com/stockparfait/datalink/config"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
)

// EnvVar is the environment variable holding the API key.
const EnvVar = "NASDAQ_DATA_LINK_API_KEY"

// DefaultFile is the default location of the key file.
func DefaultFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".nasdaq", "data_link_apikey")
}

// Resolve the API key, see ResolveContext.
func Resolve(filename string) (string, error) {
	return ResolveContext(context.Background(), filename)
}

// ResolveContext determines the API key from the environment or the key file
// (DefaultFile() when filename is empty). An empty environment variable or an
// empty key file is a credential error. When neither is present, the key is ""
// and no error is returned. A non-empty key is assigned to config.Default().
func ResolveContext(ctx context.Context, filename string) (string, error) {
	if key, ok := os.LookupEnv(EnvVar); ok {
		if key == "" {
			return "", apierr.New(apierr.KindCredential,
				"%s environment variable cannot be empty", EnvVar)
		}
		logging.Debugf(ctx, "using API key from %s", EnvVar)
		config.Default().APIKey = key
		return key, nil
	}
	if filename == "" {
		filename = DefaultFile()
	}
	if !fileExists(filename) {
		logging.Debugf(ctx, "no API key: %s is not set and '%s' does not exist",
			EnvVar, filename)
		return "", nil
	}
	key, err := Read(filename)
	if err != nil {
		return "", err
	}
	logging.Debugf(ctx, "using API key from '%s'", filename)
	config.Default().APIKey = key
	return key, nil
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	return err == nil && !info.IsDir()
}

// Read returns the first non-empty line of the key file with surrounding white
// space trimmed. It does not consult the environment.
func Read(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apierr.New(apierr.KindCredential,
				"file '%s' does not exist", filename)
		}
		return "", errors.Annotate(err, "failed to open key file '%s'", filename)
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		if key := strings.TrimSpace(s.Text()); key != "" {
			return key, nil
		}
	}
	if err := s.Err(); err != nil {
		return "", errors.Annotate(err, "failed to read key file '%s'", filename)
	}
	return "", apierr.New(apierr.KindCredential, "file '%s' is empty", filename)
}

// Save writes the key to the file (DefaultFile() when filename is empty) and
// assigns it to config.Default(). A missing file and its parent directories are
// created with owner-only permissions.
func Save(key, filename string) error {
	if filename == "" {
		filename = DefaultFile()
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return errors.Annotate(err, "failed to create directory for '%s'", filename)
	}
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Annotate(err, "failed to open '%s' for writing", filename)
	}
	if _, err := f.WriteString(key); err != nil {
		f.Close()
		return errors.Annotate(err, "failed to write key to '%s'", filename)
	}
	if err := f.Close(); err != nil {
		return errors.Annotate(err, "failed to close '%s'", filename)
	}
	config.Default().APIKey = key
	return nil
}
