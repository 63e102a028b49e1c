package lexer

import "testing"

func TestNextTokenBasics(t *testing.T) {
	input := `class Foo is Bar { construct new() { } }`
	want := []TokenType{
		TokenClass, TokenIdentifier, TokenIs, TokenIdentifier, TokenLBrace,
		TokenConstruct, TokenIdentifier, TokenLParen, TokenRParen, TokenLBrace, TokenRBrace,
		TokenRBrace, TokenEOF,
	}

	l := New(input)
	for i, wantType := range want {
		tok := l.NextToken()
		if tok.Type != wantType {
			t.Fatalf("token %d: got %s, want %s (literal %q)", i, tok.Type, wantType, tok.Literal)
		}
	}
}

func TestNumbersAndStrings(t *testing.T) {
	l := New(`42 3.5 "hi\n"`)

	num := l.NextToken()
	if num.Type != TokenNumber || num.Literal != "42" {
		t.Fatalf("got %v", num)
	}
	flt := l.NextToken()
	if flt.Type != TokenNumber || flt.Literal != "3.5" {
		t.Fatalf("got %v", flt)
	}
	str := l.NextToken()
	if str.Type != TokenString || str.Literal != "hi\n" {
		t.Fatalf("got %q", str.Literal)
	}
}

func TestOperatorsAndRanges(t *testing.T) {
	l := New(`<= == != && || .. ... !`)
	want := []TokenType{
		TokenLessEq, TokenEqEq, TokenNotEq, TokenAnd, TokenOr,
		TokenDotDot, TokenDotDotDot, TokenBang, TokenEOF,
	}
	for i, wantType := range want {
		tok := l.NextToken()
		if tok.Type != wantType {
			t.Fatalf("token %d: got %s, want %s", i, tok.Type, wantType)
		}
	}
}

func TestCommentsAreSkipped(t *testing.T) {
	l := New("// a comment\nvar x = 1")
	tok := l.NextToken()
	if tok.Type != TokenVar {
		t.Fatalf("got %v, want var (comment not skipped)", tok)
	}
}

func TestTokenize(t *testing.T) {
	toks, err := New(`1 + 2`).Tokenize()
	if err != nil {
		t.Fatal(err)
	}
	if len(toks) != 4 { // 1, +, 2, EOF
		t.Fatalf("got %d tokens", len(toks))
	}
}
