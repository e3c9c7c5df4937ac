package cpu

// Embedding copies weight row index[i] into row i of out. Indices are
// assumed to be in [0, vocab); the ops layer checks that.
func Embedding[E Element](out, weight []E, index []int64, dim int) {
	for i, id := range index {
		copy(out[i*dim:(i+1)*dim], weight[int(id)*dim:(int(id)+1)*dim])
	}
}
