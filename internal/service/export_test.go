package service

var IsBrokenPipe = isBrokenPipe
