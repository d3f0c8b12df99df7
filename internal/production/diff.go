package production

import (
	"fmt"

	udiff "github.com/aymanbagabas/go-udiff"

	"github.com/azyu/storyloom/pkg/types"
)

// Diff returns a unified diff from version a to version b. Identical
// versions produce an empty string.
func Diff(a, b types.VersionSnapshot) string {
	return udiff.Unified(
		fmt.Sprintf("revision %d", a.Revision),
		fmt.Sprintf("revision %d", b.Revision),
		a.Content,
		b.Content,
	)
}
