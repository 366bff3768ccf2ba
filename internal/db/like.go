package db

import "strings"

// LikeEscape is the ESCAPE clause that matches ContainsPattern.
const LikeEscape = ` ESCAPE '\'`

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern turns s into a LIKE pattern matching it literally anywhere
// in a value. Use it together with LikeEscape.
func ContainsPattern(s string) string {
	return "%" + likeReplacer.Replace(s) + "%"
}
