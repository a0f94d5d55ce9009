package hpack

var huffmanTree *huffmanNode

func init() {
	huffmanTree = genHuffmanTree()
}

type huffmanNode struct {
	children [2]*huffmanNode
	sym      uint16
	leaf     bool
}

func genHuffmanTree() *huffmanNode {
	root := &huffmanNode{}

	for sym, enc := range huffmanCodings {
		current := root
		for i := int(enc.n) - 1; i >= 0; i-- {
			bit := (enc.bits >> uint(i)) & 1
			if current.children[bit] == nil {
				current.children[bit] = &huffmanNode{}
			}
			current = current.children[bit]
		}
		current.sym = uint16(sym)
		current.leaf = true
	}

	return root
}

// HuffmanDecode decodes a Huffman-coded string.
func HuffmanDecode(bs []byte) (string, error) {
	return huffmanDecode(bs, 0)
}

// huffmanDecode walks the code tree bit by bit. maxLen bounds the decoded
// length when positive.
func huffmanDecode(bs []byte, maxLen int) (string, error) {
	buf := make([]byte, 0, len(bs)*8/5)

	node := huffmanTree
	depth := 0
	ones := true
	for _, char := range bs {
		for curBit := 7; curBit >= 0; curBit-- {
			bit := (char >> uint(curBit)) & 1
			node = node.children[bit]
			if node == nil {
				return "", ErrHuffmanDecode
			}
			depth++
			if bit == 0 {
				ones = false
			}

			if node.leaf {
				if node.sym == eosSymbol {
					return "", ErrHuffmanDecode
				}
				if maxLen > 0 && len(buf) >= maxLen {
					return "", ErrStringTooLong
				}
				buf = append(buf, byte(node.sym))
				node = huffmanTree
				depth = 0
				ones = true
			}
		}
	}

	// Leftover bits must be a strict prefix of EOS shorter than a byte.
	if depth > 7 || !ones {
		return "", ErrHuffmanPadding
	}

	return string(buf), nil
}

// HuffmanEncodeLength returns the number of bytes s occupies once
// Huffman-coded.
func HuffmanEncodeLength(s string) uint64 {
	var n uint64
	for i := 0; i < len(s); i++ {
		n += uint64(huffmanCodings[s[i]].n)
	}
	return (n + 7) / 8
}

// AppendHuffmanString appends the Huffman coding of s to dst. The final byte
// is padded with the most significant bits of the EOS code.
func AppendHuffmanString(dst []byte, s string) []byte {
	var x uint64
	var n uint
	for i := 0; i < len(s); i++ {
		code := huffmanCodings[s[i]]
		x = x<<code.n | uint64(code.bits)
		n += uint(code.n)
		for n >= 8 {
			n -= 8
			dst = append(dst, byte(x>>n))
		}
	}
	if n > 0 {
		pad := 8 - n
		x = x<<pad | (1<<pad - 1)
		dst = append(dst, byte(x))
	}
	return dst
}

// HuffmanEncode returns the Huffman coding of s.
func HuffmanEncode(s string) []byte {
	return AppendHuffmanString(make([]byte, 0, HuffmanEncodeLength(s)), s)
}
