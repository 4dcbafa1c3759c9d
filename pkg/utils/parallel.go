package utils

import "sync"

// ParallelMap 用固定数量的 worker 并发处理 input，结果顺序与输入一致。
// fn 内部自行处理 panic 与超时，ParallelMap 只负责调度。
func ParallelMap[T any, R any](input []T, workers int, fn func(T) R) []R {
	n := len(input)
	result := make([]R, n)
	if n == 0 {
		return result
	}
	if workers <= 1 || n == 1 {
		for i, v := range input {
			result[i] = fn(v)
		}
		return result
	}
	if workers > n {
		workers = n
	}

	indexes := make(chan int, n)
	for i := 0; i < n; i++ {
		indexes <- i
	}
	close(indexes)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range indexes {
				result[i] = fn(input[i])
			}
		}()
	}
	wg.Wait()
	return result
}
