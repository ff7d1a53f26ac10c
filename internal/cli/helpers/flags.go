package helpers

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// AddFormatFlag adds the --format/-o flag.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat) {
	names := make([]string, len(SupportedFormats))
	for i, f := range SupportedFormats {
		names[i] = string(f)
	}
	cmd.Flags().StringVarP(formatVar, "format", "o", string(defaultFormat),
		fmt.Sprintf("Output format (%s)", strings.Join(names, ", ")))
	_ = cmd.RegisterFlagCompletionFunc("format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return names, cobra.ShellCompDirectiveNoFileComp
	})
}

// ValidateFormat checks format against SupportedFormats.
func ValidateFormat(format string) (OutputFormat, error) {
	if slices.Contains(SupportedFormats, OutputFormat(format)) {
		return OutputFormat(format), nil
	}
	return "", fmt.Errorf("unsupported format %q", format)
}

// ParseAddresses parses hexadecimal code addresses, with or without a 0x
// prefix.
func ParseAddresses(args []string) ([]uint64, error) {
	out := make([]uint64, 0, len(args))
	for _, a := range args {
		s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(a)), "0x")
		v, err := strconv.ParseUint(s, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", a, err)
		}
		out = append(out, v)
	}
	return out, nil
}
