//go:build !windows

package detection

import "errors"

var errUnsupported = errors.New("requires Windows")

func readMsiProductCode(string) (string, error) { return "", errUnsupported }

func readFileVersion(string) (string, error) { return "", errUnsupported }

func lookupUninstall(string) (*UninstallEntry, error) { return nil, nil }
