package direntry

import "errors"

var (
	errEndOfFixedRoot = errors.New("fatfs: direntry: position beyond fixed root region")
	errEndOfChain     = errors.New("fatfs: direntry: position beyond directory's cluster chain")
)
