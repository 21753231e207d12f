// small helper for quick, consistent numeric formatting in headers/logs.
// Keeps fmt out of the hot path and avoids scientific notation for the
// usual value ranges.

package facts

import "strconv"

func formatInt(v int) string { return strconv.Itoa(v) }
