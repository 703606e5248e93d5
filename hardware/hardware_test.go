package hardware

import (
	"testing"

	"go.viam.com/test"
)

func TestParseDirection(t *testing.T) {
	for _, s := range []string{"", "forward", "FORWARD", " fwd "} {
		d, err := ParseDirection(s)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, d, test.ShouldEqual, Forward)
	}
	for _, s := range []string{"reverse", "Rev", "backward"} {
		d, err := ParseDirection(s)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, d, test.ShouldEqual, Reverse)
	}
	_, err := ParseDirection("sideways")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "sideways")

	test.That(t, Forward.String(), test.ShouldEqual, "forward")
	test.That(t, Reverse.String(), test.ShouldEqual, "reverse")
}

func TestPortError(t *testing.T) {
	err := &PortError{Kind: "motor", Port: 4}
	test.That(t, err.Error(), test.ShouldEqual, "no motor on port 4")
}
