package ast

// Kind tags an AST node. The set is closed; frontends map anything they do
// not model to one of the Unexposed kinds.
type Kind int

const (
	KindInvalid Kind = iota
	KindTranslationUnit
	KindFunctionDecl
	KindParmDecl
	KindVarDecl
	KindUnexposedDecl
	KindCompoundStmt
	KindDeclStmt
	KindReturnStmt
	KindIfStmt
	KindUnexposedStmt
	KindCallExpr
	KindDeclRefExpr
	KindMemberRefExpr
	KindStringLiteral
	KindIntegerLiteral
	KindParenExpr
	KindUnaryOperator
	KindBinaryOperator
	KindCStyleCastExpr
	// KindUnexposedExpr covers expressions the frontend inserts or does not
	// model, chiefly implicit conversions (function-to-pointer decay,
	// array-to-pointer decay, lvalue-to-rvalue).
	KindUnexposedExpr
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "INVALID"
	case KindTranslationUnit:
		return "TRANSLATION_UNIT"
	case KindFunctionDecl:
		return "FUNCTION_DECL"
	case KindParmDecl:
		return "PARM_DECL"
	case KindVarDecl:
		return "VAR_DECL"
	case KindUnexposedDecl:
		return "UNEXPOSED_DECL"
	case KindCompoundStmt:
		return "COMPOUND_STMT"
	case KindDeclStmt:
		return "DECL_STMT"
	case KindReturnStmt:
		return "RETURN_STMT"
	case KindIfStmt:
		return "IF_STMT"
	case KindUnexposedStmt:
		return "UNEXPOSED_STMT"
	case KindCallExpr:
		return "CALL_EXPR"
	case KindDeclRefExpr:
		return "DECL_REF_EXPR"
	case KindMemberRefExpr:
		return "MEMBER_REF_EXPR"
	case KindStringLiteral:
		return "STRING_LITERAL"
	case KindIntegerLiteral:
		return "INTEGER_LITERAL"
	case KindParenExpr:
		return "PAREN_EXPR"
	case KindUnaryOperator:
		return "UNARY_OPERATOR"
	case KindBinaryOperator:
		return "BINARY_OPERATOR"
	case KindCStyleCastExpr:
		return "CSTYLE_CAST_EXPR"
	case KindUnexposedExpr:
		return "UNEXPOSED_EXPR"
	}
	return "UNKNOWN"
}

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokenPunctuation TokenKind = iota
	TokenKeyword
	TokenIdentifier
	TokenLiteral
	TokenComment
)

func (k TokenKind) String() string {
	switch k {
	case TokenPunctuation:
		return "punctuation"
	case TokenKeyword:
		return "keyword"
	case TokenIdentifier:
		return "identifier"
	case TokenLiteral:
		return "literal"
	case TokenComment:
		return "comment"
	}
	return "unknown"
}

// Severity grades a frontend diagnostic.
type Severity int

const (
	SeverityIgnored Severity = iota
	SeverityNote
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityIgnored:
		return "ignored"
	case SeverityNote:
		return "note"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	}
	return "unknown"
}
