// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package seed

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	fileProviderName = "position_file"
	fileAccuracy     = 5
)

var ErrNoCoordinates = errors.New("no valid coordinates found")

// FileProvider reads the start position from a text file. The first line that is neither
// empty nor a comment must hold "lat,lon" or "lat,lon,alt".
type FileProvider struct {
	name     string
	path     string
	locateFn func() (Result, error)
}

// NewFileProvider returns a FileProvider for the given path.
func NewFileProvider(path string) *FileProvider {
	provider := &FileProvider{
		name: fileProviderName,
		path: path,
	}
	provider.locateFn = provider.readFile
	return provider
}

// Name returns the name of the FileProvider instance.
func (p *FileProvider) Name() string {
	return p.name
}

// Locate reads the position file.
func (p *FileProvider) Locate(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return p.locateFn()
}

func (p *FileProvider) readFile() (Result, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read position file %q: %w", p.path, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return parseLine(line)
	}
	if err = scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("failed to scan position file %q: %w", p.path, err)
	}
	return Result{}, ErrNoCoordinates
}

func parseLine(line string) (Result, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 || len(fields) > 3 {
		return Result{}, fmt.Errorf("%w: %q", ErrNoCoordinates, line)
	}
	values := make([]float64, len(fields))
	for i, field := range fields {
		value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return Result{}, fmt.Errorf("failed to parse coordinate %q: %w", field, err)
		}
		values[i] = value
	}

	result := Result{AccuracyMeters: fileAccuracy}
	result.Position.Lat, result.Position.Lon = values[0], values[1]
	if len(values) == 3 {
		result.Alt = values[2]
	}
	if !result.Position.Valid() {
		return Result{}, fmt.Errorf("%w: out of range: %q", ErrNoCoordinates, line)
	}
	return result, nil
}
