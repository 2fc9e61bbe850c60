package engine

import "math/rand/v2"

// Bag is a deterministic 7-bag piece source. Two bags built from the same
// seed produce the same sequence, which is how every player in a match sees
// the same pieces.
type Bag struct {
	rng *rand.Rand
}

func NewBag(seed int64) *Bag {
	s := uint64(seed)
	return &Bag{rng: rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))}
}

// Next returns one freshly shuffled bag of all seven pieces.
func (b *Bag) Next() []Piece {
	bag := make([]Piece, len(AllPieces))
	copy(bag, AllPieces)
	b.rng.Shuffle(len(bag), func(i, j int) { bag[i], bag[j] = bag[j], bag[i] })
	return bag
}
