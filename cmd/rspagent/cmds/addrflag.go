package cmds

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// addrValue is a 32 bit, word aligned target address flag. It is always
// parsed as hexadecimal, the 0x prefix is optional.
type addrValue uint32

var _ pflag.Value = (*addrValue)(nil)

func (a *addrValue) String() string {
	return fmt.Sprintf("%#x", uint32(*a))
}

func (a *addrValue) Set(s string) error {
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(digits, 16, 32)
	if err != nil || digits == "" {
		return fmt.Errorf("invalid address %q", s)
	}
	if v%4 != 0 {
		return fmt.Errorf("address %#x is not word aligned", v)
	}
	*a = addrValue(v)
	return nil
}

func (a *addrValue) Type() string {
	return "address"
}
