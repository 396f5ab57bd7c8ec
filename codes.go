/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package arena

// Stable string codes shared with clients. Rule rejects are surfaced as
// warnings and never mutate the inbound state; terminal reasons close the
// session; the rest are hard errors.

// Input errors.
const (
	CodeInvalidInput    = "INVALID_INPUT"
	CodeInvalidMove     = "INVALID_MOVE"
	CodeInvalidPlayer   = "INVALID_PLAYER"
	CodeInvalidFen      = "INVALID_FEN"
	CodeMissingFen      = "MISSING_FEN"
	CodeInvalidObjectId = "INVALID_OBJECT_ID"
)

// Rule rejects (non-fatal).
const (
	CodeIllegalMove        = "ILLEGAL_MOVE"
	CodeWrongTurn          = "WRONG_TURN"
	CodePieceFrozen        = "PIECE_FROZEN"
	CodePieceNotInPocket   = "PIECE_NOT_IN_POCKET"
	CodeSequentialDropOnly = "SEQUENTIAL_DROP_ONLY"
	CodeDropExpired        = "DROP_EXPIRED"
	CodeSquareOccupied     = "SQUARE_OCCUPIED"
	CodeInvalidPawnDrop    = "INVALID_PAWN_DROP"
	CodeMoveLimitExceeded  = "MOVE_LIMIT_EXCEEDED"
	CodeFoulPlay           = "FOUL_PLAY"

	// surfaced when a SixPointer per-move timer lapses and the turn passes
	CodeMoveTimeout = "MOVE_TIMEOUT"
)

// Terminal reasons.
const (
	EndTimeout              = "TIMEOUT"
	EndCheckmate            = "CHECKMATE"
	EndResignation          = "RESIGNATION"
	EndMutualAgreement      = "MUTUAL_AGREEMENT"
	EndStalemate            = "STALEMATE"
	EndInsufficientMaterial = "INSUFFICIENT_MATERIAL"
	EndThreefoldRepetition  = "THREEFOLD_REPETITION"
	EndFivefoldRepetition   = "FIVEFOLD_REPETITION"
	EndFiftyMoveRule        = "FIFTY_MOVE_RULE"
	EndSeventyFiveMoveRule  = "SEVENTY_FIVE_MOVE_RULE"
	EndPoints               = "POINTS"
)

// Session errors.
const (
	CodeGameNotFound = "GAME_NOT_FOUND"
	CodeGameEnded    = "GAME_ENDED"
	CodeNotAPlayer   = "NOT_A_PLAYER"
)

// Infrastructure errors.
const (
	CodeDBError         = "DB_ERROR"
	CodeValidationError = "VALIDATION_ERROR"
	CodeDuplicateKey    = "DUPLICATE_KEY"
	CodeInternalError   = "INTERNAL_ERROR"
)
