package loader

import "errors"

var (
	ErrBadIdent               = errors.New("not an ELF32 little-endian SysV executable")
	ErrWrongMachine           = errors.New("machine is not RISC-V")
	ErrNoEntrypoint           = errors.New("no entrypoint")
	ErrNoExecutableCode       = errors.New("no executable code")
	ErrBadProgramHeader       = errors.New("unexpected program header entry size")
	ErrInterpreterUnsupported = errors.New("PT_INTERP is not supported")
	ErrFirstSegmentAlign      = errors.New("first segment alignment exceeds page size")
	ErrOverlappingSegments    = errors.New("segments overlap")
	ErrEntryOutsideImage      = errors.New("entrypoint is not inside a loaded segment")
	ErrEmptyImage             = errors.New("image is empty")
	ErrImageTooLarge          = errors.New("image does not fit in 32 bits")
	ErrRelocationTarget       = errors.New("relocation target section is not loaded")
	ErrUnresolvedSymbol       = errors.New("relocation symbol cannot be resolved")
	ErrUnsupportedRelocation  = errors.New("unsupported relocation type")
	ErrBadRelocationTable     = errors.New("malformed relocation table")
	ErrBadPageSize            = errors.New("page size must be a multiple of the host page size")
	ErrMalformed              = errors.New("malformed ELF file")
)
